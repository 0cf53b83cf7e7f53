package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"predex-api/internal/model"
	"predex-api/pkg/pricing"
)

// LedgerWriter records the audit rows of a committed trade inside its
// transaction. *ledger.Writer implements it; declaring it here keeps this
// package from importing pkg/ledger, which itself imports this package.
type LedgerWriter interface {
	WriteBuy(ctx context.Context, session sqlx.Session, marketID, userID int64, effect *TradeEffect, now time.Time) error
	WriteSell(ctx context.Context, session sqlx.Session, marketID, userID int64, effect *TradeEffect, now time.Time) error
}

// Service is the sqlx-transaction-backed orchestration layer: it loads and
// locks rows in the engine's fixed order, delegates to the pure ApplyBuy/
// ApplySell/ApplySettle functions in trade.go, persists the result, and
// writes ledger rows. It holds no in-process mutable state beyond the
// opaque database session handles sqlx manages (spec §5).
type Service struct {
	conn           sqlx.SqlConn
	users          model.UsersModel
	markets        model.MarketsModel
	amms           model.AMMsModel
	clearingHouses model.ClearingHousesModel
	positions      model.PositionsModel
	ledger         LedgerWriter
	now            func() time.Time
}

// NewService wires a Service over the given models and ledger writer.
func NewService(
	conn sqlx.SqlConn,
	users model.UsersModel,
	markets model.MarketsModel,
	amms model.AMMsModel,
	clearingHouses model.ClearingHousesModel,
	positions model.PositionsModel,
	ledgerWriter LedgerWriter,
) *Service {
	return &Service{
		conn:           conn,
		users:          users,
		markets:        markets,
		amms:           amms,
		clearingHouses: clearingHouses,
		positions:      positions,
		ledger:         ledgerWriter,
		now:            time.Now,
	}
}

// GetOrCreateUser provisions a user on first reference, per spec §3
// "Lifecycle".
func (s *Service) GetOrCreateUser(ctx context.Context, username string, initialPoints float64) (*User, error) {
	row, err := s.users.GetOrCreate(ctx, username, initialPoints)
	if err != nil {
		return nil, fmt.Errorf("engine: get or create user %s: %w", username, err)
	}
	return &User{ID: row.ID, Username: row.Username, Points: row.Points}, nil
}

// GetOrCreateMarket provisions a market and its AMM/clearing-house rows
// atomically on first reference, per spec §3 "Lifecycle".
func (s *Service) GetOrCreateMarket(ctx context.Context, name string, b, initialAMMPoints float64) (*Market, error) {
	existing, err := s.markets.FindOneByName(ctx, name)
	if err == nil {
		return marketFromModel(existing), nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("engine: look up market %s: %w", name, err)
	}

	var created *model.Market
	txErr := s.conn.TransactCtx(ctx, func(ctx context.Context, _ sqlx.Session) error {
		id, insErr := s.markets.Insert(ctx, name, b, initialAMMPoints)
		if insErr != nil {
			if errors.Is(insErr, model.ErrDuplicate) {
				row, findErr := s.markets.FindOneByName(ctx, name)
				if findErr != nil {
					return findErr
				}
				created = row
				return nil
			}
			return insErr
		}
		if _, err := s.amms.Insert(ctx, id, initialAMMPoints); err != nil {
			return err
		}
		if _, err := s.clearingHouses.Insert(ctx, id); err != nil {
			return err
		}
		created = &model.Market{ID: id, Name: name, B: b, AMMPoints: initialAMMPoints}
		return nil
	})
	if txErr != nil {
		return nil, fmt.Errorf("engine: create market %s: %w", name, txErr)
	}
	return marketFromModel(created), nil
}

// resolveQuantity implements spec §4.1's "budget -> integer quantity"
// inversion when the caller supplied a budget instead of an explicit
// quantity.
func resolveQuantity(b, qYesTotal, qNoTotal float64, side Side, quantity int64, budget float64, isSell bool) (int64, error) {
	if quantity > 0 {
		return quantity, nil
	}
	if budget <= 0 {
		return 0, newErr(KindInvalidArgument, "either quantity or budget must be positive")
	}
	yesSide := side == SideYes
	qty, err := pricing.QuantityForBudget(b, qYesTotal, qNoTotal, budget, yesSide, isSell)
	if err != nil {
		return 0, ErrPricingOverflow
	}
	if qty == 0 {
		return 0, ErrBudgetInsufficient
	}
	return qty, nil
}

// Buy executes spec §4.2. Exactly one of quantity/budget should be
// positive; if both are, quantity wins.
func (s *Service) Buy(ctx context.Context, marketName, username string, side Side, quantity int64, budget float64, visibility VisibilityPredicate) (*TradeResult, error) {
	if _, err := ParseSide(string(side)); err != nil {
		return nil, err
	}
	if quantity <= 0 && budget <= 0 {
		return nil, newErr(KindInvalidArgument, "either quantity or budget must be positive")
	}
	if visibility == nil {
		visibility = AlwaysVisible
	}

	var result *TradeResult
	txErr := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		userRow, err := s.users.FindOneByUsernameForUpdate(ctx, session, username)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		mktRow, ammRow, chRow, err := s.markets.FindBundleForUpdate(ctx, session, marketName)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}

		market := marketFromModel(mktRow)
		amm := ammFromModel(ammRow)
		ch := chFromModel(chRow)
		user := &User{ID: userRow.ID, Username: userRow.Username, Points: userRow.Points}

		if market.Resolved {
			return ErrMarketSettled
		}
		visible := visibility.IsVisible(marketName, username)

		posRow, err := s.positions.FindOrCreateForUpdate(ctx, session, mktRow.ID, userRow.ID)
		if err != nil {
			return err
		}
		pos := &Position{ID: posRow.ID, MarketID: posRow.MarketID, UserID: posRow.UserID, QYes: posRow.QYes, QNo: posRow.QNo}

		resolvedQty, err := resolveQuantity(market.B, amm.OutstandingYes(), amm.OutstandingNo(), side, quantity, budget, false)
		if err != nil {
			return err
		}

		effect, err := ApplyBuy(market, amm, ch, pos, user, side, resolvedQty, visible)
		if err != nil {
			return err
		}

		if err := s.persistTradeState(ctx, session, market, amm, ch, pos, user); err != nil {
			return err
		}
		now := s.now()
		if err := s.ledger.WriteBuy(ctx, session, market.ID, user.ID, effect, now); err != nil {
			return err
		}

		recordTrade("buy", side)
		recordCollateralTransfer(effect.Collateral)
		result = &effect.Result
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

// Sell executes spec §4.3.
func (s *Service) Sell(ctx context.Context, marketName, username string, side Side, quantity int64, budget float64, visibility VisibilityPredicate) (*TradeResult, error) {
	if _, err := ParseSide(string(side)); err != nil {
		return nil, err
	}
	if quantity <= 0 && budget <= 0 {
		return nil, newErr(KindInvalidArgument, "either quantity or budget must be positive")
	}
	if visibility == nil {
		visibility = AlwaysVisible
	}

	var result *TradeResult
	txErr := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		userRow, err := s.users.FindOneByUsernameForUpdate(ctx, session, username)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		mktRow, ammRow, chRow, err := s.markets.FindBundleForUpdate(ctx, session, marketName)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}

		market := marketFromModel(mktRow)
		amm := ammFromModel(ammRow)
		ch := chFromModel(chRow)
		user := &User{ID: userRow.ID, Username: userRow.Username, Points: userRow.Points}

		if market.Resolved {
			return ErrMarketSettled
		}
		visible := visibility.IsVisible(marketName, username)

		posRow, err := s.positions.FindOrCreateForUpdate(ctx, session, mktRow.ID, userRow.ID)
		if err != nil {
			return err
		}
		pos := &Position{ID: posRow.ID, MarketID: posRow.MarketID, UserID: posRow.UserID, QYes: posRow.QYes, QNo: posRow.QNo}

		resolvedQty, err := resolveQuantity(market.B, amm.OutstandingYes(), amm.OutstandingNo(), side, quantity, budget, true)
		if err != nil {
			return err
		}
		if held := pos.HeldOf(side); resolvedQty > int64(held) {
			resolvedQty = int64(held)
		}
		if resolvedQty <= 0 {
			return ErrInsufficientHold
		}

		effect, err := ApplySell(market, amm, ch, pos, user, side, resolvedQty, visible)
		if err != nil {
			return err
		}

		if err := s.persistTradeState(ctx, session, market, amm, ch, pos, user); err != nil {
			return err
		}
		now := s.now()
		if err := s.ledger.WriteSell(ctx, session, market.ID, user.ID, effect, now); err != nil {
			return err
		}

		recordTrade("sell", side)
		recordCollateralTransfer(effect.Collateral)
		result = &effect.Result
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

// SettleResult is the caller-visible shape of a settlement, per spec §6.
type SettleResult struct {
	MarketName string
	Outcome    Side
}

// Settle executes spec §4.4: locks the market, enumerates all positions,
// credits winners, and marks the market resolved. The AMM reserve and
// clearing-house collateral are left untouched (spec §9, preserved
// verbatim as an explicit open question).
func (s *Service) Settle(ctx context.Context, marketName string, outcome Side) (*SettleResult, error) {
	if _, err := ParseSide(string(outcome)); err != nil {
		return nil, err
	}

	txErr := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		mktRow, err := s.markets.FindOneByNameForUpdate(ctx, session, marketName)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}
		market := marketFromModel(mktRow)
		if market.Resolved {
			return ErrMarketSettled
		}

		posRows, err := s.positions.FindByMarketForUpdate(ctx, session, mktRow.ID)
		if err != nil {
			return err
		}

		positions := make([]*Position, 0, len(posRows))
		users := make([]*User, 0, len(posRows))
		userRowsByID := map[int64]*model.User{}
		for _, p := range posRows {
			userRow, err := s.users.FindOneForUpdate(ctx, session, p.UserID)
			if err != nil {
				return fmt.Errorf("load user %d for settlement: %w", p.UserID, err)
			}
			userRowsByID[p.UserID] = userRow
			positions = append(positions, &Position{ID: p.ID, MarketID: p.MarketID, UserID: p.UserID, QYes: p.QYes, QNo: p.QNo})
			users = append(users, &User{ID: userRow.ID, Username: userRow.Username, Points: userRow.Points})
		}

		now := s.now()
		if _, err := ApplySettle(market, outcome, positions, users, now); err != nil {
			return err
		}

		outcomeYes := outcome == SideYes
		if err := s.markets.SettleSession(ctx, session, mktRow.ID, outcomeYes, now); err != nil {
			return err
		}
		for _, u := range users {
			if err := s.users.UpdatePointsSession(ctx, session, u.ID, u.Points); err != nil {
				return err
			}
		}

		recordSettlement()
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &SettleResult{MarketName: marketName, Outcome: outcome}, nil
}

func (s *Service) persistTradeState(ctx context.Context, session sqlx.Session, market *Market, amm *AMM, ch *ClearingHouse, pos *Position, user *User) error {
	if err := s.users.UpdatePointsSession(ctx, session, user.ID, user.Points); err != nil {
		return err
	}
	if err := s.markets.UpdateAMMPointsSession(ctx, session, market.ID, market.AMMPoints); err != nil {
		return err
	}
	if err := s.amms.UpdateSession(ctx, session, amm.ID, amm.Points, amm.QYes, amm.QNo); err != nil {
		return err
	}
	if err := s.clearingHouses.UpdateSession(ctx, session, ch.ID, ch.Points); err != nil {
		return err
	}
	if err := s.positions.UpdateSession(ctx, session, pos.ID, pos.QYes, pos.QNo); err != nil {
		return err
	}
	return nil
}

func marketFromModel(m *model.Market) *Market {
	var outcome *Side
	if m.Outcome != nil {
		o := SideNo
		if *m.Outcome {
			o = SideYes
		}
		outcome = &o
	}
	return &Market{
		ID:        m.ID,
		Name:      m.Name,
		B:         m.B,
		AMMPoints: m.AMMPoints,
		Resolved:  m.Resolved,
		Outcome:   outcome,
		SettledAt: m.SettledAt,
	}
}

func ammFromModel(a *model.AMM) *AMM {
	return &AMM{ID: a.ID, MarketID: a.MarketID, Points: a.Points, QYes: a.QYes, QNo: a.QNo}
}

func chFromModel(c *model.ClearingHouse) *ClearingHouse {
	return &ClearingHouse{ID: c.ID, MarketID: c.MarketID, Points: c.Points}
}
