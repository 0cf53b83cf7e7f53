package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predex-api/pkg/engine"
	"predex-api/pkg/pricing"
)

func freshMarket() (*engine.Market, *engine.AMM, *engine.ClearingHouse) {
	market := &engine.Market{ID: 1, Name: "m", B: 20, AMMPoints: 10000}
	amm := &engine.AMM{ID: 1, MarketID: 1, Points: 10000}
	ch := &engine.ClearingHouse{ID: 1, MarketID: 1, Points: 0}
	return market, amm, ch
}

func freshUser(points float64) *engine.User {
	return &engine.User{ID: 1, Username: "alice", Points: points}
}

// S1: A buys 10 YES on a fresh market.
func TestScenarioS1(t *testing.T) {
	market, amm, ch := freshMarket()
	user := freshUser(1000)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	effect, err := engine.ApplyBuy(market, amm, ch, pos, user, engine.SideYes, 10, true)
	require.NoError(t, err)

	assert.InDelta(t, 5.125, effect.Result.OrderCost, 0.01)
	assert.InDelta(t, 0.6225, effect.Result.NewPrice, 0.001)
	assert.InDelta(t, 10005.125, amm.Points, 0.01)
	assert.InDelta(t, 10, ch.Points, 0.01)
	assert.InDelta(t, 1000-effect.Result.OrderCost, user.Points, 1e-9)
}

// S2: A buys 10 YES, B buys 10 NO on the same market -> price returns to 0.5.
func TestScenarioS2(t *testing.T) {
	market, amm, ch := freshMarket()
	alice := freshUser(1000)
	bob := &engine.User{ID: 2, Username: "bob", Points: 1000}
	posA := &engine.Position{MarketID: 1, UserID: 1}
	posB := &engine.Position{MarketID: 1, UserID: 2}

	_, err := engine.ApplyBuy(market, amm, ch, posA, alice, engine.SideYes, 10, true)
	require.NoError(t, err)
	effectB, err := engine.ApplyBuy(market, amm, ch, posB, bob, engine.SideNo, 10, true)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, effectB.Result.NewPrice, 1e-6)
	assert.InDelta(t, 10, ch.Points, 1e-6)

	startTotal := 1000.0 + 1000.0 + 10000.0
	endTotal := alice.Points + bob.Points + amm.Points + ch.Points
	assert.InDelta(t, startTotal, endTotal, 1e-6)
}

// S4: A buys 10 YES then sells 10 YES -> strictly loses the spread; AMM
// inventory and CH return to zero outstanding; price returns to 0.5.
func TestScenarioS4RoundTrip(t *testing.T) {
	market, amm, ch := freshMarket()
	user := freshUser(1000)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplyBuy(market, amm, ch, pos, user, engine.SideYes, 10, true)
	require.NoError(t, err)

	_, err = engine.ApplySell(market, amm, ch, pos, user, engine.SideYes, 10, true)
	require.NoError(t, err)

	assert.Less(t, user.Points, 1000.0)
	assert.InDelta(t, 0, amm.QYes, 1e-9)
	assert.InDelta(t, 0, ch.Points, 1e-9)

	p, err := pricing.YesPrice(market.B, amm.OutstandingYes(), amm.OutstandingNo())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)
}

func TestInsufficientFunds(t *testing.T) {
	market, amm, ch := freshMarket()
	user := freshUser(1)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplyBuy(market, amm, ch, pos, user, engine.SideYes, 1000, true)
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KindInsufficientFunds, engErr.Kind)
}

func TestInsufficientHoldings(t *testing.T) {
	market, amm, ch := freshMarket()
	user := freshUser(1000)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplySell(market, amm, ch, pos, user, engine.SideYes, 1, true)
	require.ErrorIs(t, err, engine.ErrInsufficientHold)
}

func TestAccessDenied(t *testing.T) {
	market, amm, ch := freshMarket()
	user := freshUser(1000)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplyBuy(market, amm, ch, pos, user, engine.SideYes, 1, false)
	require.ErrorIs(t, err, engine.ErrAccessDenied)
}

func TestMarketSettledRejectsTrade(t *testing.T) {
	market, amm, ch := freshMarket()
	market.Resolved = true
	user := freshUser(1000)
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplyBuy(market, amm, ch, pos, user, engine.SideYes, 1, true)
	require.ErrorIs(t, err, engine.ErrMarketSettled)
}

// S5: settle a market with two YES holders (5 and 3 contracts).
func TestScenarioS5Settlement(t *testing.T) {
	market, _, _ := freshMarket()
	alice := &engine.User{ID: 1, Username: "alice", Points: 1000}
	bob := &engine.User{ID: 2, Username: "bob", Points: 1000}
	posA := &engine.Position{MarketID: 1, UserID: 1, QYes: 5}
	posB := &engine.Position{MarketID: 1, UserID: 2, QYes: 3}

	payouts, err := engine.ApplySettle(market, engine.SideYes, []*engine.Position{posA, posB}, []*engine.User{alice, bob}, time.Now())
	require.NoError(t, err)

	assert.True(t, market.Resolved)
	assert.Equal(t, 1005.0, alice.Points)
	assert.Equal(t, 1003.0, bob.Points)
	assert.Len(t, payouts, 2)

	_, err = engine.ApplySettle(market, engine.SideYes, nil, nil, time.Now())
	assert.ErrorIs(t, err, engine.ErrMarketSettled)
}

func TestSettledMarketRejectsFurtherTrades(t *testing.T) {
	market, amm, ch := freshMarket()
	alice := &engine.User{ID: 1, Username: "alice", Points: 1000}
	pos := &engine.Position{MarketID: 1, UserID: 1}

	_, err := engine.ApplySettle(market, engine.SideYes, nil, nil, time.Now())
	require.NoError(t, err)

	_, err = engine.ApplyBuy(market, amm, ch, pos, alice, engine.SideYes, 1, true)
	assert.ErrorIs(t, err, engine.ErrMarketSettled)
}
