package pricing_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predex-api/pkg/pricing"
)

func TestYesPriceFreshMarket(t *testing.T) {
	p, err := pricing.YesPrice(20, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)
}

func TestYesPriceUnitInterval(t *testing.T) {
	cases := [][3]float64{
		{20, 0, 0},
		{20, 100, 0},
		{20, 0, 100},
		{5, 500, 10},
		{1000, 1, 1},
	}
	for _, c := range cases {
		p, err := pricing.YesPrice(c[0], c[1], c[2])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestInvalidLiquidity(t *testing.T) {
	_, err := pricing.YesPrice(0, 0, 0)
	assert.ErrorIs(t, err, pricing.ErrInvalidLiquidity)

	_, err = pricing.Cost(-1, 0, 0)
	assert.ErrorIs(t, err, pricing.ErrInvalidLiquidity)
}

// S1 from spec §8: buying 10 YES on a fresh b=20 market costs ~5.125 and
// moves the price to ~0.6225.
func TestScenarioS1BuyTenYes(t *testing.T) {
	cost, err := pricing.Delta(20, 0, 0, 10, 0)
	require.NoError(t, err)
	assert.InDelta(t, 5.125, cost, 0.01)

	p, err := pricing.YesPrice(20, 10, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6225, p, 0.001)
}

// S2: symmetric 10 YES / 10 NO buys on the same market return price to 0.5.
func TestScenarioS2SymmetricBuysReturnToHalf(t *testing.T) {
	p, err := pricing.YesPrice(20, 10, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)
}

// Property 4: buying YES strictly increases p_yes; buying NO strictly
// decreases it.
func TestPriceMonotonicity(t *testing.T) {
	base, err := pricing.YesPrice(20, 0, 0)
	require.NoError(t, err)

	afterYesBuy, err := pricing.YesPrice(20, 10, 0)
	require.NoError(t, err)
	assert.Greater(t, afterYesBuy, base)

	afterNoBuy, err := pricing.YesPrice(20, 0, 10)
	require.NoError(t, err)
	assert.Less(t, afterNoBuy, base)
}

// Property 5: path independence — the sum of incremental trade costs
// equals the cost delta between start and end inventories directly.
func TestPathIndependence(t *testing.T) {
	b := 20.0
	step1, err := pricing.Delta(b, 0, 0, 4, 0)
	require.NoError(t, err)
	step2, err := pricing.Delta(b, 4, 0, 6, 0)
	require.NoError(t, err)

	direct, err := pricing.Delta(b, 0, 0, 10, 0)
	require.NoError(t, err)

	assert.InDelta(t, direct, step1+step2, 1e-9)
}

// Property 6: buying q then immediately selling q of the same side costs a
// non-negative spread (never a net gain).
func TestRoundTripSpreadNonNegative(t *testing.T) {
	b := 20.0
	buyCost, err := pricing.Delta(b, 0, 0, 10, 0)
	require.NoError(t, err)

	sellPayout, err := pricing.Delta(b, 10, 0, -10, 0)
	require.NoError(t, err)
	// sellPayout is the cost of moving back to (0,0); payout to seller is
	// -sellPayout.
	payout := -sellPayout

	assert.GreaterOrEqual(t, buyCost, payout)
}

func TestQuantityForBudgetS3(t *testing.T) {
	qty, err := pricing.QuantityForBudget(20, 0, 0, 1000, true, false)
	require.NoError(t, err)
	assert.Greater(t, qty, int64(0))

	costQ, err := pricing.Delta(20, 0, 0, float64(qty), 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, costQ, 1000.0)

	costQPlus1, err := pricing.Delta(20, 0, 0, float64(qty+1), 0)
	if err == nil {
		assert.Greater(t, costQPlus1, 1000.0)
	}
}

func TestQuantityForBudgetZeroBudget(t *testing.T) {
	qty, err := pricing.QuantityForBudget(20, 0, 0, 0, true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)
}

func TestQuantityForBudgetTooSmall(t *testing.T) {
	// An extremely tiny budget on a high-liquidity market can't afford even
	// one contract.
	qty, err := pricing.QuantityForBudget(1_000_000, 0, 0, 1e-12, true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)
}

// TestQuantityForBudgetSellPayout checks that selling from a fresh (0,0)
// market resolves against the sell payout, not the buy cost of the
// opposite side -- they diverge (selling 10 YES from (0,0) at b=20 pays
// ~4.38, while buying 10 NO from the same inventory costs ~5.62).
func TestQuantityForBudgetSellPayout(t *testing.T) {
	b, qYes, qNo := 20.0, 0.0, 0.0

	payoutOf := func(qty int64) float64 {
		d, err := pricing.Delta(b, qYes, qNo, -float64(qty), 0)
		require.NoError(t, err)
		return -d
	}

	budget := payoutOf(10) + 1e-6
	qty, err := pricing.QuantityForBudget(b, qYes, qNo, budget, true, true)
	require.NoError(t, err)
	assert.Equal(t, int64(10), qty)

	assert.LessOrEqual(t, payoutOf(qty), budget)
	if qtyPlus1 := payoutOf(qty + 1); qtyPlus1 > 0 {
		assert.Greater(t, qtyPlus1, budget)
	}

	// The same budget resolved against the opposite-side buy cost (the bug
	// this test guards against) must land on a different quantity.
	oppositeBuyQty, err := pricing.QuantityForBudget(b, qYes, qNo, budget, false, false)
	require.NoError(t, err)
	assert.NotEqual(t, qty, oppositeBuyQty)
}

func TestLSEOverflowReportsNonFinite(t *testing.T) {
	_, err := pricing.Cost(0.5, math.MaxFloat64, 0)
	assert.ErrorIs(t, err, pricing.ErrNonFinite)
}
