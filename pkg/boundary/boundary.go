// Package boundary is the thin adapter spec.md §6 describes: the surface a
// caller (HTTP handler, bot loop) actually invokes. It owns the one thing
// explicitly excluded from the engine — decimal rounding at the edge (§6
// "Numeric policy": round prices to 4 decimals, money to 2, never
// internally) — plus read-through caching for the two listing operations,
// advisory only per spec §5 ("reconciled against the database on the next
// transaction").
package boundary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"

	internalcache "predex-api/internal/cache"
	"predex-api/internal/model"
	"predex-api/pkg/engine"
	"predex-api/pkg/pricing"
)

// PreviewResult is preview's response shape (spec §6).
type PreviewResult struct {
	OrderCost    float64
	Quantity     int64
	NewPrice     float64
	CurrentPrice float64
}

// TradeResult is buy/sell's response shape (spec §6).
type TradeResult struct {
	NewBalance float64
	NewPrice   float64
	OrderCost  float64
	Quantity   int64
}

// SettleResult is settle's response shape (spec §6).
type SettleResult struct {
	MarketName string
	Outcome    string
}

// PositionView is one market's holding in a user snapshot.
type PositionView struct {
	MarketName string
	QYes       float64
	QNo        float64
}

// UserSnapshot is snapshot_user's response shape (spec §6).
type UserSnapshot struct {
	Username  string
	Balance   float64
	Positions []PositionView
}

// PortfolioPosition is one market's mark-to-market line in a portfolio
// snapshot (spec §3 SUPPLEMENTED "Portfolio mark-to-market").
type PortfolioPosition struct {
	MarketName   string
	QYes         float64
	QNo          float64
	YesPrice     float64
	NoPrice      float64
	MarkToMarket float64
}

// PortfolioSnapshot is snapshot_portfolio's response shape (spec §6).
type PortfolioSnapshot struct {
	Username   string
	Positions  []PortfolioPosition
	TotalValue float64
}

// MarketView is one row of list_markets' response (spec §3 SUPPLEMENTED
// "Market listing with per-market current YES price").
type MarketView struct {
	Name     string
	B        float64
	Resolved bool
	YesPrice float64
}

// Boundary adapts pkg/engine.Service into the caller-facing operation set.
type Boundary struct {
	svc       *engine.Service
	users     model.UsersModel
	markets   model.MarketsModel
	amms      model.AMMsModel
	positions model.PositionsModel
	cache     cache.Cache
	ttl       internalcache.TTLSet
}

// New wires a Boundary. cache may be nil: every cache lookup is then a
// passthrough.
func New(svc *engine.Service, users model.UsersModel, markets model.MarketsModel, amms model.AMMsModel, positions model.PositionsModel, cacheStore cache.Cache, ttl internalcache.TTLSet) *Boundary {
	return &Boundary{svc: svc, users: users, markets: markets, amms: amms, positions: positions, cache: cacheStore, ttl: ttl}
}

func roundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(4).InexactFloat64()
}

func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Preview computes what a buy would cost without committing it: no
// transaction, no locks, a best-effort read of the current bundle. Spec §6
// does not distinguish a sell-side preview, so quantity/budget are resolved
// exactly as a buy would.
func (b *Boundary) Preview(ctx context.Context, marketName, username string, side engine.Side, quantity int64, budget float64) (*PreviewResult, error) {
	if _, err := engine.ParseSide(string(side)); err != nil {
		return nil, err
	}
	mkt, err := b.markets.FindOneByName(ctx, marketName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, engine.ErrMarketNotFound
		}
		return nil, err
	}
	if mkt.Resolved {
		return nil, engine.ErrMarketSettled
	}
	amm, err := b.amms.FindByMarketID(ctx, mkt.ID)
	if err != nil {
		return nil, fmt.Errorf("boundary: load amm for market %s: %w", marketName, err)
	}

	qYes, qNo := -amm.QYes, -amm.QNo
	currentPrice, err := pricing.YesPrice(mkt.B, qYes, qNo)
	if err != nil {
		return nil, engine.ErrPricingOverflow
	}
	if side == engine.SideNo {
		currentPrice = 1 - currentPrice
	}

	resolvedQty := quantity
	if resolvedQty <= 0 {
		// Preview always resolves budget against the buy cost; it never
		// previews a sell.
		yesSide := side == engine.SideYes
		qty, err := pricing.QuantityForBudget(mkt.B, qYes, qNo, budget, yesSide, false)
		if err != nil {
			return nil, engine.ErrPricingOverflow
		}
		if qty == 0 {
			return nil, engine.ErrBudgetInsufficient
		}
		resolvedQty = qty
	}

	dqYes, dqNo := 0.0, 0.0
	if side == engine.SideYes {
		dqYes = float64(resolvedQty)
	} else {
		dqNo = float64(resolvedQty)
	}
	cost, err := pricing.Delta(mkt.B, qYes, qNo, dqYes, dqNo)
	if err != nil {
		return nil, engine.ErrPricingOverflow
	}

	newPrice, err := pricing.YesPrice(mkt.B, qYes+dqYes, qNo+dqNo)
	if err != nil {
		return nil, engine.ErrPricingOverflow
	}
	if side == engine.SideNo {
		newPrice = 1 - newPrice
	}

	return &PreviewResult{
		OrderCost:    roundMoney(cost),
		Quantity:     resolvedQty,
		NewPrice:     roundPrice(newPrice),
		CurrentPrice: roundPrice(currentPrice),
	}, nil
}

// Buy delegates to the engine and rounds the response at the boundary.
func (b *Boundary) Buy(ctx context.Context, marketName, username string, side engine.Side, quantity int64, budget float64, visibility engine.VisibilityPredicate) (*TradeResult, error) {
	result, err := b.svc.Buy(ctx, marketName, username, side, quantity, budget, visibility)
	if err != nil {
		return nil, err
	}
	b.invalidateListings(ctx, username)
	return toTradeResult(result), nil
}

// Sell delegates to the engine and rounds the response at the boundary.
func (b *Boundary) Sell(ctx context.Context, marketName, username string, side engine.Side, quantity int64, budget float64, visibility engine.VisibilityPredicate) (*TradeResult, error) {
	result, err := b.svc.Sell(ctx, marketName, username, side, quantity, budget, visibility)
	if err != nil {
		return nil, err
	}
	b.invalidateListings(ctx, username)
	return toTradeResult(result), nil
}

func toTradeResult(r *engine.TradeResult) *TradeResult {
	return &TradeResult{
		NewBalance: roundMoney(r.NewBalance),
		NewPrice:   roundPrice(r.NewPrice),
		OrderCost:  roundMoney(r.OrderCost),
		Quantity:   r.Quantity,
	}
}

// Settle delegates to the engine.
func (b *Boundary) Settle(ctx context.Context, marketName string, outcome engine.Side) (*SettleResult, error) {
	result, err := b.svc.Settle(ctx, marketName, outcome)
	if err != nil {
		return nil, err
	}
	b.invalidateListings(ctx, "")
	return &SettleResult{MarketName: result.MarketName, Outcome: string(result.Outcome)}, nil
}

// SnapshotUser returns a user's balance and raw positions (spec §6).
func (b *Boundary) SnapshotUser(ctx context.Context, username string) (*UserSnapshot, error) {
	userRow, err := b.users.FindOneByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, engine.ErrUserNotFound
		}
		return nil, err
	}
	posRows, err := b.positions.ListByUser(ctx, userRow.ID)
	if err != nil {
		return nil, err
	}

	views := make([]PositionView, 0, len(posRows))
	for _, p := range posRows {
		mkt, err := b.markets.FindOne(ctx, p.MarketID)
		if err != nil {
			return nil, fmt.Errorf("boundary: load market %d for snapshot: %w", p.MarketID, err)
		}
		views = append(views, PositionView{MarketName: mkt.Name, QYes: p.QYes, QNo: p.QNo})
	}

	return &UserSnapshot{Username: userRow.Username, Balance: roundMoney(userRow.Points), Positions: views}, nil
}

// SnapshotPortfolio values each held position at the current AMM price
// (spec §3 SUPPLEMENTED "Portfolio mark-to-market"), advisory-cached per
// user.
func (b *Boundary) SnapshotPortfolio(ctx context.Context, username string) (*PortfolioSnapshot, error) {
	key := internalcache.PortfolioKey(username)
	var cached PortfolioSnapshot
	if b.getCache(ctx, key, &cached) {
		return &cached, nil
	}

	userRow, err := b.users.FindOneByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, engine.ErrUserNotFound
		}
		return nil, err
	}
	posRows, err := b.positions.ListByUser(ctx, userRow.ID)
	if err != nil {
		return nil, err
	}

	lines := make([]PortfolioPosition, 0, len(posRows))
	var total float64
	for _, p := range posRows {
		mkt, err := b.markets.FindOne(ctx, p.MarketID)
		if err != nil {
			return nil, fmt.Errorf("boundary: load market %d for portfolio: %w", p.MarketID, err)
		}
		amm, err := b.amms.FindByMarketID(ctx, mkt.ID)
		if err != nil {
			return nil, fmt.Errorf("boundary: load amm for market %d: %w", mkt.ID, err)
		}
		yesPrice, err := pricing.YesPrice(mkt.B, -amm.QYes, -amm.QNo)
		if err != nil {
			return nil, engine.ErrPricingOverflow
		}
		noPrice := 1 - yesPrice
		value := p.QYes*yesPrice + p.QNo*noPrice
		total += value

		lines = append(lines, PortfolioPosition{
			MarketName:   mkt.Name,
			QYes:         p.QYes,
			QNo:          p.QNo,
			YesPrice:     roundPrice(yesPrice),
			NoPrice:      roundPrice(noPrice),
			MarkToMarket: roundMoney(value),
		})
	}

	snapshot := &PortfolioSnapshot{Username: userRow.Username, Positions: lines, TotalValue: roundMoney(total)}
	b.setCache(ctx, key, internalcache.PortfolioTTL(b.ttl), snapshot)
	return snapshot, nil
}

// ListMarkets returns every market visible to username (or every market, if
// username is empty), each with its live YES price (spec §3 SUPPLEMENTED
// "Market listing with per-market current YES price"). System counterparty
// users never own markets, so no market-side filtering is needed for the
// "__system_" convention (spec §9) — it only ever excludes user listings.
func (b *Boundary) ListMarkets(ctx context.Context, username string, visibility engine.VisibilityPredicate) ([]MarketView, error) {
	if visibility == nil {
		visibility = engine.AlwaysVisible
	}

	key := internalcache.MarketListKey()
	var cached []MarketView
	useCache := username == ""
	if useCache && b.getCache(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := b.markets.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]MarketView, 0, len(rows))
	for _, m := range rows {
		if username != "" && !visibility.IsVisible(m.Name, username) {
			continue
		}
		var yesPrice float64
		if !m.Resolved {
			amm, err := b.amms.FindByMarketID(ctx, m.ID)
			if err != nil {
				return nil, fmt.Errorf("boundary: load amm for market %d: %w", m.ID, err)
			}
			yesPrice, err = pricing.YesPrice(m.B, -amm.QYes, -amm.QNo)
			if err != nil {
				return nil, engine.ErrPricingOverflow
			}
		} else if m.Outcome != nil {
			if *m.Outcome {
				yesPrice = 1
			}
		}
		views = append(views, MarketView{Name: m.Name, B: m.B, Resolved: m.Resolved, YesPrice: roundPrice(yesPrice)})
	}

	if useCache {
		b.setCache(ctx, key, internalcache.MarketListTTL(b.ttl), views)
	}
	return views, nil
}

func (b *Boundary) getCache(ctx context.Context, key string, v interface{}) bool {
	if b.cache == nil {
		return false
	}
	if err := b.cache.GetCtx(ctx, key, v); err != nil {
		if !b.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("boundary: cache get %s: %v", key, err)
		}
		return false
	}
	return true
}

func (b *Boundary) setCache(ctx context.Context, key string, ttl time.Duration, v interface{}) {
	if b.cache == nil || ttl <= 0 {
		return
	}
	if err := b.cache.SetWithExpireCtx(ctx, key, v, ttl); err != nil {
		logx.WithContext(ctx).Errorf("boundary: cache set %s: %v", key, err)
	}
}

// invalidateListings drops advisory caches a completed trade or settlement
// may have made stale (spec §5 "Process-wide caches ... must be reconciled
// against the database on the next transaction" — here, proactively on
// write rather than waiting out the TTL).
func (b *Boundary) invalidateListings(ctx context.Context, username string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.DelCtx(ctx, internalcache.MarketListKey()); err != nil {
		logx.WithContext(ctx).Errorf("boundary: cache invalidate markets: %v", err)
	}
	if username != "" {
		if err := b.cache.DelCtx(ctx, internalcache.PortfolioKey(username)); err != nil {
			logx.WithContext(ctx).Errorf("boundary: cache invalidate portfolio %s: %v", username, err)
		}
	}
}
