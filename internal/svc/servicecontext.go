package svc

import (
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	internalcache "predex-api/internal/cache"
	"predex-api/internal/config"
	"predex-api/internal/model"
	"predex-api/pkg/boundary"
	"predex-api/pkg/engine"
	"predex-api/pkg/ledger"
)

// ServiceContext wires configuration, persistence models, the trade engine,
// the ledger writer, and the boundary adapter into one composition root.
type ServiceContext struct {
	Config config.Config

	DBConn sqlx.SqlConn
	Cache  cache.Cache
	TTL    internalcache.TTLSet

	Users          model.UsersModel
	Markets        model.MarketsModel
	AMMs           model.AMMsModel
	ClearingHouses model.ClearingHousesModel
	Positions      model.PositionsModel
	Ledger         model.LedgerModel

	LedgerMode ledger.Mode
	Engine     *engine.Service
	Boundary   *boundary.Boundary
}

// NewServiceContext connects to Postgres, applies the configured pool
// tuning, and wires every persistence model, the trade engine, the ledger
// writer, and the boundary adapter together.
func NewServiceContext(c config.Config) *ServiceContext {
	conn := sqlx.NewSqlConn("pgx", c.Postgres.DataSource)
	applyPoolTuning(conn, c.Postgres)

	users := model.NewUsersModel(conn)
	markets := model.NewMarketsModel(conn)
	amms := model.NewAMMsModel(conn)
	clearingHouses := model.NewClearingHousesModel(conn)
	positions := model.NewPositionsModel(conn)
	ledgerModel := model.NewLedgerModel(conn)

	mode, err := ledger.ParseMode(c.Market.LedgerMode)
	if err != nil {
		log.Fatalf("invalid ledger mode: %v", err)
	}
	ledgerWriter := ledger.NewWriter(mode, ledgerModel, users)

	eng := engine.NewService(conn, users, markets, amms, clearingHouses, positions, ledgerWriter)

	// cacheStore is left nil here: every call site in pkg/boundary already
	// treats a nil cache.Cache as a pass-through (spec §5, "process-wide
	// caches are advisory"). An external caller embedding this module can
	// build a real cache.Cache from c.Cache's node list and pass it into
	// boundary.New in place of cacheStore to enable it.
	var cacheStore cache.Cache
	ttl := internalcache.NewTTLSet(c.TTL.Short, c.TTL.Medium, c.TTL.Long)

	return &ServiceContext{
		Config:         c,
		DBConn:         conn,
		Cache:          cacheStore,
		TTL:            ttl,
		Users:          users,
		Markets:        markets,
		AMMs:           amms,
		ClearingHouses: clearingHouses,
		Positions:      positions,
		Ledger:         ledgerModel,
		LedgerMode:     mode,
		Engine:         eng,
		Boundary:       boundary.New(eng, users, markets, amms, positions, cacheStore, ttl),
	}
}

// applyPoolTuning configures the pool's open/idle limits, pre-ping health
// checks, and periodic recycling per spec §5/§6; it sets no checkout order,
// which stays whatever database/sql uses. go-zero's SqlConn exposes
// the underlying *sql.DB via RawDB for this; pre-ping is a synchronous ping
// at startup rather than a per-checkout hook, which is sufficient to fail
// fast on a misconfigured DSN before the first request.
func applyPoolTuning(conn sqlx.SqlConn, pg config.PostgresConf) {
	rawDB, err := conn.RawDB()
	if err != nil {
		log.Fatalf("failed to access raw db handle: %v", err)
	}
	if pg.MaxOpen > 0 {
		rawDB.SetMaxOpenConns(pg.MaxOpen)
	}
	if pg.MaxIdle > 0 {
		rawDB.SetMaxIdleConns(pg.MaxIdle)
	}
	if pg.MaxLifetime > 0 {
		rawDB.SetConnMaxLifetime(pg.MaxLifetime)
	}
	if pg.PrePing {
		if err := rawDB.Ping(); err != nil {
			log.Fatalf("database pre-ping failed: %v", err)
		}
	}
}
