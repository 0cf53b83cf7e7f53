package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// Position is the positions table row: one user's YES/NO holding in one
// market.
type Position struct {
	ID       int64   `db:"id"`
	MarketID int64   `db:"market_id"`
	UserID   int64   `db:"user_id"`
	QYes     float64 `db:"q_yes"`
	QNo      float64 `db:"q_no"`
}

var positionFields = "id, market_id, user_id, q_yes, q_no"

// PositionsModel is the persistence surface for the positions table.
type PositionsModel interface {
	// FindOrCreateForUpdate locks the (market, user) position row, creating
	// it with zero holdings if absent — the third step of the engine's
	// fixed lock order.
	FindOrCreateForUpdate(ctx context.Context, session sqlx.Session, marketID, userID int64) (*Position, error)
	UpdateSession(ctx context.Context, session sqlx.Session, id int64, qYes, qNo float64) error
	FindByMarketForUpdate(ctx context.Context, session sqlx.Session, marketID int64) ([]*Position, error)
	ListByUser(ctx context.Context, userID int64) ([]*Position, error)
}

type positionsModel struct {
	conn sqlx.SqlConn
}

// NewPositionsModel constructs a PositionsModel over conn.
func NewPositionsModel(conn sqlx.SqlConn) PositionsModel {
	return &positionsModel{conn: conn}
}

func (m *positionsModel) FindOrCreateForUpdate(ctx context.Context, session sqlx.Session, marketID, userID int64) (*Position, error) {
	var pos Position
	query := fmt.Sprintf("select %s from positions where market_id = $1 and user_id = $2 for update", positionFields)
	err := session.QueryRowCtx(ctx, &pos, query, marketID, userID)
	if err == nil {
		return &pos, nil
	}
	if !errors.Is(err, sqlc.ErrNotFound) && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	insert := "insert into positions (market_id, user_id, q_yes, q_no) values ($1, $2, 0, 0) on conflict (market_id, user_id) do nothing returning id"
	var id int64
	if insErr := session.QueryRowCtx(ctx, &id, insert, marketID, userID); insErr != nil {
		if errors.Is(insErr, sqlc.ErrNotFound) || errors.Is(insErr, sql.ErrNoRows) {
			// Lost a race to create the row: the insert did nothing and the
			// transaction is still usable, so re-read it, now locked by us
			// once the other transaction commits.
			reread := fmt.Sprintf("select %s from positions where market_id = $1 and user_id = $2 for update", positionFields)
			if err := session.QueryRowCtx(ctx, &pos, reread, marketID, userID); err != nil {
				return nil, err
			}
			return &pos, nil
		}
		return nil, insErr
	}
	return &Position{ID: id, MarketID: marketID, UserID: userID}, nil
}

func (m *positionsModel) UpdateSession(ctx context.Context, session sqlx.Session, id int64, qYes, qNo float64) error {
	_, err := session.ExecCtx(ctx, "update positions set q_yes = $1, q_no = $2 where id = $3", qYes, qNo, id)
	return err
}

func (m *positionsModel) FindByMarketForUpdate(ctx context.Context, session sqlx.Session, marketID int64) ([]*Position, error) {
	query := fmt.Sprintf("select %s from positions where market_id = $1 order by id for update", positionFields)
	var rows []*Position
	if err := session.QueryRowsCtx(ctx, &rows, query, marketID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *positionsModel) ListByUser(ctx context.Context, userID int64) ([]*Position, error) {
	query := fmt.Sprintf("select %s from positions where user_id = $1 and (q_yes <> 0 or q_no <> 0) order by id", positionFields)
	var rows []*Position
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	return rows, nil
}
