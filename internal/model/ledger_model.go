package model

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// LedgerEntry is one append-only ledger_entries row (spec §3). Entries are
// never updated or deleted. ID is a client-generated UUID rather than a DB
// sequence value so concurrent trades across many markets never contend on
// a single sequence under heavy write load.
type LedgerEntry struct {
	ID        uuid.UUID `db:"id"`
	MarketID  int64     `db:"market_id"`
	UserID    int64     `db:"user_id"`
	Timestamp time.Time `db:"timestamp"`
	Reason    string    `db:"reason"`
	Delta     float64   `db:"delta"`
	Side      string    `db:"side"`
	Amount    *float64  `db:"amount"`
}

// LedgerModel is the persistence surface for the ledger_entries table.
type LedgerModel interface {
	InsertSession(ctx context.Context, session sqlx.Session, entry LedgerEntry) error
	ListByMarket(ctx context.Context, marketID int64, limit int) ([]*LedgerEntry, error)
}

type ledgerModel struct {
	conn sqlx.SqlConn
}

// NewLedgerModel constructs a LedgerModel over conn.
func NewLedgerModel(conn sqlx.SqlConn) LedgerModel {
	return &ledgerModel{conn: conn}
}

func (m *ledgerModel) InsertSession(ctx context.Context, session sqlx.Session, entry LedgerEntry) error {
	query := `insert into ledger_entries (id, market_id, user_id, "timestamp", reason, delta, side, amount)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := session.ExecCtx(ctx, query,
		entry.ID, entry.MarketID, entry.UserID, entry.Timestamp, entry.Reason, entry.Delta, entry.Side, entry.Amount)
	return err
}

func (m *ledgerModel) ListByMarket(ctx context.Context, marketID int64, limit int) ([]*LedgerEntry, error) {
	query := `select id, market_id, user_id, "timestamp", reason, delta, side, amount
		from ledger_entries where market_id = $1 order by "timestamp" desc limit $2`
	var rows []*LedgerEntry
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, marketID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}
