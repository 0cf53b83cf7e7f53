package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// Market is the markets table row.
type Market struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	B         float64    `db:"b"`
	AMMPoints float64    `db:"amm_points"`
	CreatedAt time.Time  `db:"created_at"`
	Resolved  bool       `db:"resolved"`
	Outcome   *bool      `db:"outcome"` // true=yes, false=no, nil=unresolved
	SettledAt *time.Time `db:"settled_at"`
}

var marketFields = "id, name, b, amm_points, created_at, resolved, outcome, settled_at"

// MarketsModel is the persistence surface for the markets table.
type MarketsModel interface {
	FindOne(ctx context.Context, id int64) (*Market, error)
	FindOneByName(ctx context.Context, name string) (*Market, error)
	// FindOneByNameForUpdate locks just the market row, used by settlement
	// which does not need the AMM/clearing-house bundle (spec §4.4, §5).
	FindOneByNameForUpdate(ctx context.Context, session sqlx.Session, name string) (*Market, error)
	// FindBundleForUpdate locks market+amm+clearing_house as one critical
	// section on session: the "market bundle" acquisition in the engine's
	// fixed lock order (user -> market bundle -> position).
	FindBundleForUpdate(ctx context.Context, session sqlx.Session, name string) (*Market, *AMM, *ClearingHouse, error)
	Insert(ctx context.Context, name string, b, ammPoints float64) (int64, error)
	GetOrCreate(ctx context.Context, name string, b, ammPoints float64) (*Market, error)
	UpdateAMMPointsSession(ctx context.Context, session sqlx.Session, id int64, ammPoints float64) error
	SettleSession(ctx context.Context, session sqlx.Session, id int64, outcomeYes bool, settledAt time.Time) error
	List(ctx context.Context) ([]*Market, error)
}

type marketsModel struct {
	conn sqlx.SqlConn
}

// NewMarketsModel constructs a MarketsModel over conn.
func NewMarketsModel(conn sqlx.SqlConn) MarketsModel {
	return &marketsModel{conn: conn}
}

func (m *marketsModel) FindOne(ctx context.Context, id int64) (*Market, error) {
	var row Market
	query := fmt.Sprintf("select %s from markets where id = $1", marketFields)
	err := m.conn.QueryRowCtx(ctx, &row, query, id)
	return scanMarketResult(&row, err)
}

func (m *marketsModel) FindOneByName(ctx context.Context, name string) (*Market, error) {
	var row Market
	query := fmt.Sprintf("select %s from markets where name = $1", marketFields)
	err := m.conn.QueryRowCtx(ctx, &row, query, name)
	return scanMarketResult(&row, err)
}

func (m *marketsModel) FindOneByNameForUpdate(ctx context.Context, session sqlx.Session, name string) (*Market, error) {
	var row Market
	query := fmt.Sprintf("select %s from markets where name = $1 for update", marketFields)
	err := session.QueryRowCtx(ctx, &row, query, name)
	return scanMarketResult(&row, err)
}

// FindBundleForUpdate acquires the market, AMM, and clearing-house rows as
// three sequential FOR UPDATE reads on the same session/transaction. They
// serialize as a single critical section because no other statement runs
// between them and all three locks release together at commit/rollback.
func (m *marketsModel) FindBundleForUpdate(ctx context.Context, session sqlx.Session, name string) (*Market, *AMM, *ClearingHouse, error) {
	var mkt Market
	marketQuery := fmt.Sprintf("select %s from markets where name = $1 for update", marketFields)
	if err := session.QueryRowCtx(ctx, &mkt, marketQuery, name); err != nil {
		if errors.Is(err, sqlc.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, err
	}

	var amm AMM
	ammQuery := fmt.Sprintf("select %s from amms where market_id = $1 for update", ammFields)
	if err := session.QueryRowCtx(ctx, &amm, ammQuery, mkt.ID); err != nil {
		return nil, nil, nil, fmt.Errorf("load amm for market %d: %w", mkt.ID, err)
	}

	var ch ClearingHouse
	chQuery := fmt.Sprintf("select %s from clearing_houses where market_id = $1 for update", clearingHouseFields)
	if err := session.QueryRowCtx(ctx, &ch, chQuery, mkt.ID); err != nil {
		return nil, nil, nil, fmt.Errorf("load clearing house for market %d: %w", mkt.ID, err)
	}

	return &mkt, &amm, &ch, nil
}

func (m *marketsModel) Insert(ctx context.Context, name string, b, ammPoints float64) (int64, error) {
	query := "insert into markets (name, b, amm_points, resolved) values ($1, $2, $3, false) returning id"
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query, name, b, ammPoints)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (m *marketsModel) GetOrCreate(ctx context.Context, name string, b, ammPoints float64) (*Market, error) {
	existing, err := m.FindOneByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := m.Insert(ctx, name, b, ammPoints)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return m.FindOneByName(ctx, name)
		}
		return nil, err
	}
	return &Market{ID: id, Name: name, B: b, AMMPoints: ammPoints}, nil
}

func (m *marketsModel) UpdateAMMPointsSession(ctx context.Context, session sqlx.Session, id int64, ammPoints float64) error {
	_, err := session.ExecCtx(ctx, "update markets set amm_points = $1 where id = $2", ammPoints, id)
	return err
}

func (m *marketsModel) SettleSession(ctx context.Context, session sqlx.Session, id int64, outcomeYes bool, settledAt time.Time) error {
	_, err := session.ExecCtx(ctx,
		"update markets set resolved = true, outcome = $1, settled_at = $2 where id = $3",
		outcomeYes, settledAt, id)
	return err
}

func (m *marketsModel) List(ctx context.Context) ([]*Market, error) {
	query := fmt.Sprintf("select %s from markets order by id", marketFields)
	var rows []*Market
	if err := m.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

func scanMarketResult(row *Market, err error) (*Market, error) {
	if err != nil {
		if errors.Is(err, sqlc.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row, nil
}
