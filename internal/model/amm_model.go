package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// AMM is the amms table row: the market maker's reserve and signed
// inventory counters for one market.
type AMM struct {
	ID       int64   `db:"id"`
	MarketID int64   `db:"market_id"`
	Points   float64 `db:"points"`
	QYes     float64 `db:"q_yes"`
	QNo      float64 `db:"q_no"`
}

var ammFields = "id, market_id, points, q_yes, q_no"

// AMMsModel is the persistence surface for the amms table. Reads used by
// the trade engine always go through MarketsModel.FindBundleForUpdate;
// this model covers provisioning (market creation) and standalone writes.
type AMMsModel interface {
	Insert(ctx context.Context, marketID int64, points float64) (int64, error)
	UpdateSession(ctx context.Context, session sqlx.Session, id int64, points, qYes, qNo float64) error
	// FindByMarketID is an unlocked read used by read-only boundary
	// operations (current price, listings) that don't participate in the
	// trade engine's locked transactions.
	FindByMarketID(ctx context.Context, marketID int64) (*AMM, error)
}

type ammsModel struct {
	conn sqlx.SqlConn
}

// NewAMMsModel constructs an AMMsModel over conn.
func NewAMMsModel(conn sqlx.SqlConn) AMMsModel {
	return &ammsModel{conn: conn}
}

func (m *ammsModel) Insert(ctx context.Context, marketID int64, points float64) (int64, error) {
	query := "insert into amms (market_id, points, q_yes, q_no) values ($1, $2, 0, 0) returning id"
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query, marketID, points)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (m *ammsModel) UpdateSession(ctx context.Context, session sqlx.Session, id int64, points, qYes, qNo float64) error {
	query := "update amms set points = $1, q_yes = $2, q_no = $3 where id = $4"
	_, err := session.ExecCtx(ctx, query, points, qYes, qNo, id)
	return err
}

func (m *ammsModel) FindByMarketID(ctx context.Context, marketID int64) (*AMM, error) {
	var row AMM
	query := fmt.Sprintf("select %s from amms where market_id = $1", ammFields)
	err := m.conn.QueryRowCtx(ctx, &row, query, marketID)
	if err != nil {
		if errors.Is(err, sqlc.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}
