// Package ledger writes the optional append-only audit trail described in
// spec.md §4.2/§4.3/§9: nothing in off mode, one row per user-visible trade
// leg in light mode, and in full mode additionally the AMM/clearing-house
// side of the double-entry.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"predex-api/internal/model"
	"predex-api/pkg/engine"
)

// Mode selects how much the ledger records, per spec §6 "Ledger mode
// selector {off, light, full}, read once at startup".
type Mode string

const (
	ModeOff   Mode = "off"
	ModeLight Mode = "light"
	ModeFull  Mode = "full"
)

// ParseMode validates a config-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeLight, ModeFull:
		return Mode(s), nil
	default:
		return "", errors.New("ledger: mode must be one of off|light|full")
	}
}

// Reserved usernames for ledger attribution (spec §9 "System counterparty
// users"). These hold no real balance and are excluded from end-user
// listings by the "__system_" prefix.
const (
	SystemAMMUsername           = "__system_amm__"
	SystemClearingHouseUsername = "__system_clearing_house__"
	SystemUsernamePrefix        = "__system_"
)

const (
	reasonTradeBuy      = "trade buy"
	reasonTradeSell     = "trade sell"
	reasonClearingHouse = "clearing house"
)

// systemActors memoizes the two reserved user IDs across the life of the
// process (spec §9 "Memoization of system user IDs"), guarded by a
// one-shot primitive since rows are immutable once created.
type systemActors struct {
	once  sync.Once
	ammID int64
	chID  int64
	err   error
}

func (s *systemActors) resolve(ctx context.Context, users model.UsersModel, initialPoints float64) (ammID, chID int64, err error) {
	s.once.Do(func() {
		amm, e := users.GetOrCreate(ctx, SystemAMMUsername, initialPoints)
		if e != nil {
			s.err = e
			return
		}
		ch, e := users.GetOrCreate(ctx, SystemClearingHouseUsername, initialPoints)
		if e != nil {
			s.err = e
			return
		}
		s.ammID, s.chID = amm.ID, ch.ID
	})
	return s.ammID, s.chID, s.err
}

// Writer emits ledger_entries rows according to the configured Mode.
type Writer struct {
	mode   Mode
	ledger model.LedgerModel
	users  model.UsersModel
	actors systemActors
}

// NewWriter constructs a Writer. users is used only to resolve the two
// system counterparty IDs lazily on first full-mode write.
func NewWriter(mode Mode, ledgerModel model.LedgerModel, usersModel model.UsersModel) *Writer {
	return &Writer{mode: mode, ledger: ledgerModel, users: usersModel}
}

// Mode reports the writer's configured mode.
func (w *Writer) Mode() Mode { return w.mode }

// WriteBuy records a completed buy, per spec §4.2's ledger rule: always a
// user row; in full mode also the AMM counterparty row and, when the
// collateral reconcile topped up the clearing house, the paired
// clearing-house rows.
func (w *Writer) WriteBuy(ctx context.Context, session sqlx.Session, marketID, userID int64, effect *engine.TradeEffect, now time.Time) error {
	if w.mode == ModeOff {
		return nil
	}
	qty := float64(effect.Result.Quantity)

	if err := w.insert(ctx, session, marketID, userID, now, reasonTradeBuy, effect.UserDelta, effect.Side, &qty); err != nil {
		return err
	}
	if w.mode != ModeFull {
		return nil
	}

	ammID, chID, err := w.actors.resolve(ctx, w.users, 0)
	if err != nil {
		return err
	}
	if err := w.insert(ctx, session, marketID, ammID, now, reasonTradeSell, effect.AMMDelta, effect.Side, &qty); err != nil {
		return err
	}
	if effect.Collateral != nil && effect.Collateral.ToHouse {
		amount := effect.Collateral.Amount
		if err := w.insert(ctx, session, marketID, ammID, now, reasonClearingHouse, -amount, effect.Side, nil); err != nil {
			return err
		}
		if err := w.insert(ctx, session, marketID, chID, now, reasonClearingHouse, amount, effect.Side, nil); err != nil {
			return err
		}
	}
	return nil
}

// WriteSell is the mirror of WriteBuy for spec §4.3.
func (w *Writer) WriteSell(ctx context.Context, session sqlx.Session, marketID, userID int64, effect *engine.TradeEffect, now time.Time) error {
	if w.mode == ModeOff {
		return nil
	}
	qty := float64(effect.Result.Quantity)

	if err := w.insert(ctx, session, marketID, userID, now, reasonTradeSell, effect.UserDelta, effect.Side, &qty); err != nil {
		return err
	}
	if w.mode != ModeFull {
		return nil
	}

	ammID, chID, err := w.actors.resolve(ctx, w.users, 0)
	if err != nil {
		return err
	}
	if err := w.insert(ctx, session, marketID, ammID, now, reasonTradeBuy, effect.AMMDelta, effect.Side, &qty); err != nil {
		return err
	}
	if effect.Collateral != nil && !effect.Collateral.ToHouse {
		amount := effect.Collateral.Amount
		if err := w.insert(ctx, session, marketID, chID, now, reasonClearingHouse, -amount, effect.Side, nil); err != nil {
			return err
		}
		if err := w.insert(ctx, session, marketID, ammID, now, reasonClearingHouse, amount, effect.Side, nil); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) insert(ctx context.Context, session sqlx.Session, marketID, userID int64, now time.Time, reason string, delta float64, side engine.Side, amount *float64) error {
	entry := model.LedgerEntry{
		ID:        uuid.New(),
		MarketID:  marketID,
		UserID:    userID,
		Timestamp: now,
		Reason:    reason,
		Delta:     delta,
		Side:      string(side),
		Amount:    amount,
	}
	if err := w.ledger.InsertSession(ctx, session, entry); err != nil {
		logx.WithContext(ctx).Errorf("ledger: insert entry reason=%s market=%d user=%d: %v", reason, marketID, userID, err)
		return err
	}
	return nil
}
