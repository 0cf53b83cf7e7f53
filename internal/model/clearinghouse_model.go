package model

import (
	"context"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ClearingHouse is the clearing_houses table row: collateral held for one
// market, always max(outstanding YES, outstanding NO) after a committed
// trade.
type ClearingHouse struct {
	ID       int64   `db:"id"`
	MarketID int64   `db:"market_id"`
	Points   float64 `db:"points"`
}

var clearingHouseFields = "id, market_id, points"

// ClearingHousesModel is the persistence surface for the clearing_houses
// table. Locked reads go through MarketsModel.FindBundleForUpdate; this
// model covers provisioning and standalone writes.
type ClearingHousesModel interface {
	Insert(ctx context.Context, marketID int64) (int64, error)
	UpdateSession(ctx context.Context, session sqlx.Session, id int64, points float64) error
}

type clearingHousesModel struct {
	conn sqlx.SqlConn
}

// NewClearingHousesModel constructs a ClearingHousesModel over conn.
func NewClearingHousesModel(conn sqlx.SqlConn) ClearingHousesModel {
	return &clearingHousesModel{conn: conn}
}

func (m *clearingHousesModel) Insert(ctx context.Context, marketID int64) (int64, error) {
	query := "insert into clearing_houses (market_id, points) values ($1, 0) returning id"
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query, marketID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (m *clearingHousesModel) UpdateSession(ctx context.Context, session sqlx.Session, id int64, points float64) error {
	_, err := session.ExecCtx(ctx, "update clearing_houses set points = $1 where id = $2", points, id)
	return err
}
