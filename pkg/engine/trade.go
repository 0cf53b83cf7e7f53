package engine

import (
	"math"
	"time"

	"predex-api/pkg/pricing"
)

// VisibilityPredicate decides whether a user may trade a given market.
// Injected per call per spec §6/§9 rather than coupled to any allow-list
// data source.
type VisibilityPredicate interface {
	IsVisible(marketName, username string) bool
}

// VisibilityPredicateFunc adapts a plain function to VisibilityPredicate.
type VisibilityPredicateFunc func(marketName, username string) bool

func (f VisibilityPredicateFunc) IsVisible(marketName, username string) bool {
	return f(marketName, username)
}

// AlwaysVisible admits every (market, user) pair; used where the boundary
// layer has no allow-list configured.
var AlwaysVisible VisibilityPredicate = VisibilityPredicateFunc(func(string, string) bool { return true })

// ApplyBuy mutates market, amm, ch, pos, and user in place to reflect
// buying quantity contracts of side, per spec §4.2. quantity must already
// be resolved from a budget if the caller used one (see
// pricing.QuantityForBudget). Returns the caller-visible result plus
// ledger-relevant effect data. No I/O; callers persist the mutated structs
// themselves inside a locked transaction.
func ApplyBuy(market *Market, amm *AMM, ch *ClearingHouse, pos *Position, user *User, side Side, quantity int64, visible bool) (*TradeEffect, error) {
	if quantity <= 0 {
		return nil, newErr(KindInvalidArgument, "quantity must be positive, got %d", quantity)
	}
	if market.Resolved {
		return nil, ErrMarketSettled
	}
	if !visible {
		return nil, ErrAccessDenied
	}

	qYesTotal, qNoTotal := amm.OutstandingYes(), amm.OutstandingNo()
	dqYes, dqNo := sideDelta(side, float64(quantity))

	cost, err := pricing.Delta(market.B, qYesTotal, qNoTotal, dqYes, dqNo)
	if err != nil {
		return nil, ErrPricingOverflow
	}
	if user.Points < cost {
		return nil, newErr(KindInsufficientFunds, "user %s has %.4f points, trade costs %.4f", user.Username, user.Points, cost)
	}

	user.Points -= cost
	amm.Points += cost
	market.AMMPoints = amm.Points

	applyPositionDelta(pos, side, float64(quantity))
	applyAMMInventoryDelta(amm, side, -float64(quantity))

	transfer, err := reconcileCollateralOnBuy(amm, ch)
	if err != nil {
		return nil, err
	}

	newPrice, err := sidePrice(market.B, amm, side)
	if err != nil {
		return nil, err
	}

	return &TradeEffect{
		Result: TradeResult{
			NewBalance: user.Points,
			NewPrice:   newPrice,
			OrderCost:  cost,
			Quantity:   quantity,
		},
		Side:       side,
		UserDelta:  -cost,
		AMMDelta:   cost,
		Collateral: transfer,
	}, nil
}

// ApplySell is the mirror of ApplyBuy for spec §4.3. quantity must already
// be resolved and clamped to held holdings by the caller.
func ApplySell(market *Market, amm *AMM, ch *ClearingHouse, pos *Position, user *User, side Side, quantity int64, visible bool) (*TradeEffect, error) {
	if quantity <= 0 {
		return nil, newErr(KindInvalidArgument, "quantity must be positive, got %d", quantity)
	}
	if market.Resolved {
		return nil, ErrMarketSettled
	}
	if !visible {
		return nil, ErrAccessDenied
	}
	if pos.HeldOf(side) < float64(quantity) {
		return nil, newErr(KindInsufficientHold, "user %s holds %.0f of %s, cannot sell %d", user.Username, pos.HeldOf(side), side, quantity)
	}

	qYesTotal, qNoTotal := amm.OutstandingYes(), amm.OutstandingNo()
	dqYes, dqNo := sideDelta(side, -float64(quantity))

	raw, err := pricing.Delta(market.B, qYesTotal, qNoTotal, dqYes, dqNo)
	if err != nil {
		return nil, ErrPricingOverflow
	}
	payout := -raw
	if amm.Points < payout {
		return nil, ErrAMMInsolvent
	}

	user.Points += payout
	amm.Points -= payout
	market.AMMPoints = amm.Points

	applyPositionDelta(pos, side, -float64(quantity))
	applyAMMInventoryDelta(amm, side, float64(quantity))

	transfer, err := reconcileCollateralOnSell(amm, ch)
	if err != nil {
		return nil, err
	}

	newPrice, err := sidePrice(market.B, amm, side)
	if err != nil {
		return nil, err
	}

	return &TradeEffect{
		Result: TradeResult{
			NewBalance: user.Points,
			NewPrice:   newPrice,
			OrderCost:  payout,
			Quantity:   quantity,
		},
		Side:       side,
		UserDelta:  payout,
		AMMDelta:   -payout,
		Collateral: transfer,
	}, nil
}

// SettlementPayout is one user's credit from a settlement, for ledger
// emission by the caller.
type SettlementPayout struct {
	UserID int64
	Credit float64
}

// ApplySettle transitions market to resolved and credits every position's
// winning-side quantity to its user's points, per spec §4.4. positions and
// their corresponding users (matched by index) are mutated in place. The
// AMM reserve and clearing-house collateral are deliberately left
// untouched (spec §9, explicit open question: residual points are not
// redistributed).
func ApplySettle(market *Market, outcome Side, positions []*Position, users []*User, now time.Time) ([]SettlementPayout, error) {
	if market.Resolved {
		return nil, ErrMarketSettled
	}
	if outcome != SideYes && outcome != SideNo {
		return nil, newErr(KindInvalidArgument, "outcome must be yes or no, got %q", outcome)
	}
	if len(positions) != len(users) {
		return nil, newErr(KindInvalidArgument, "positions/users length mismatch: %d vs %d", len(positions), len(users))
	}

	market.Resolved = true
	o := outcome
	market.Outcome = &o
	t := now
	market.SettledAt = &t

	payouts := make([]SettlementPayout, 0, len(positions))
	for i, pos := range positions {
		user := users[i]
		credit := pos.HeldOf(outcome)
		if credit == 0 {
			continue
		}
		user.Points += credit
		payouts = append(payouts, SettlementPayout{UserID: user.ID, Credit: credit})
	}
	return payouts, nil
}

func sideDelta(side Side, qty float64) (dqYes, dqNo float64) {
	if side == SideYes {
		return qty, 0
	}
	return 0, qty
}

func applyPositionDelta(pos *Position, side Side, qty float64) {
	if side == SideYes {
		pos.QYes += qty
	} else {
		pos.QNo += qty
	}
}

func applyAMMInventoryDelta(amm *AMM, side Side, qty float64) {
	if side == SideYes {
		amm.QYes += qty
	} else {
		amm.QNo += qty
	}
}

func sidePrice(b float64, amm *AMM, side Side) (float64, error) {
	p, err := pricing.YesPrice(b, amm.OutstandingYes(), amm.OutstandingNo())
	if err != nil {
		return 0, ErrPricingOverflow
	}
	if side == SideNo {
		return 1 - p, nil
	}
	return p, nil
}

// reconcileCollateralOnBuy implements spec §4.2's collateral reconcile
// step: top up the clearing house from the AMM reserve if outstanding
// requirements grew.
func reconcileCollateralOnBuy(amm *AMM, ch *ClearingHouse) (*CollateralTransfer, error) {
	required := math.Max(amm.OutstandingYes(), math.Max(amm.OutstandingNo(), 0))
	delta := required - ch.Points
	switch {
	case delta > 0:
		if amm.Points < delta {
			return nil, ErrCollateralShortage
		}
		amm.Points -= delta
		ch.Points += delta
		return &CollateralTransfer{Amount: delta, ToHouse: true}, nil
	case delta < -collateralTolerance:
		return nil, ErrConsistency
	default:
		return nil, nil
	}
}

// reconcileCollateralOnSell implements spec §4.3's collateral release:
// hand back the excess collateral the clearing house no longer needs.
func reconcileCollateralOnSell(amm *AMM, ch *ClearingHouse) (*CollateralTransfer, error) {
	required := math.Max(amm.OutstandingYes(), math.Max(amm.OutstandingNo(), 0))
	delta := ch.Points - required
	switch {
	case delta > 0:
		ch.Points -= delta
		amm.Points += delta
		return &CollateralTransfer{Amount: delta, ToHouse: false}, nil
	case delta < -collateralTolerance:
		return nil, ErrConsistency
	default:
		return nil, nil
	}
}
