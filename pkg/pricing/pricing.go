// Package pricing implements the Logarithmic Market Scoring Rule (LMSR)
// cost function for binary markets: two outcomes, YES and NO, sharing a
// single liquidity parameter b.
//
// All functions here are pure and stdlib-only (math). Inputs and outputs
// are float64 — internal log/exp evaluation needs native floating point for
// numerical stability, and callers round to fixed decimal places only at
// the boundary (see pkg/boundary).
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design".
package pricing

import (
	"errors"
	"math"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("pricing: liquidity parameter b must be positive")

	// ErrNonFinite is returned when a cost/price evaluation overflows to a
	// non-finite value. The caller should treat this as "quantity too large
	// for this market's liquidity" rather than retry.
	ErrNonFinite = errors.New("pricing: cost evaluation produced a non-finite value")
)

// lse computes ln(exp(a) + exp(b)) using the log-sum-exp trick: subtract the
// max before exponentiating so the arguments to exp never exceed zero. This
// is the standard stabilization for LMSR evaluated at large |q|/b.
func lse(a, b float64) float64 {
	m := math.Max(a, b)
	if math.IsInf(m, -1) {
		return math.Inf(-1)
	}
	if math.IsInf(m, 1) {
		return math.Inf(1)
	}
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// Cost evaluates the LMSR cost function C(qYes, qNo) = b * ln(e^(qYes/b) +
// e^(qNo/b)). It is never called on its own by the engine — trades evaluate
// the cost *delta* between two inventory states (see Delta).
func Cost(b, qYes, qNo float64) (float64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	c := b * lse(qYes/b, qNo/b)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, ErrNonFinite
	}
	return c, nil
}

// Delta returns the signed cost of moving the YES-side inventory by dqYes
// and the NO-side inventory by dqNo simultaneously: C(qYes+dqYes,
// qNo+dqNo) - C(qYes, qNo). Exactly one of dqYes/dqNo is nonzero for a
// single-side buy/sell; both are supplied so settlement-adjacent callers
// can reuse the same primitive.
func Delta(b, qYes, qNo, dqYes, dqNo float64) (float64, error) {
	before, err := Cost(b, qYes, qNo)
	if err != nil {
		return 0, err
	}
	after, err := Cost(b, qYes+dqYes, qNo+dqNo)
	if err != nil {
		return 0, err
	}
	d := after - before
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, ErrNonFinite
	}
	return d, nil
}

// YesPrice returns the instantaneous YES probability: e^(qYes/b) /
// (e^(qYes/b) + e^(qNo/b)), via softmax with max-subtraction for stability.
// The NO price is always 1 - YesPrice(...); no separate function is needed.
func YesPrice(b, qYes, qNo float64) (float64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	a := qYes / b
	n := qNo / b
	m := math.Max(a, n)
	expYes := math.Exp(a - m)
	expNo := math.Exp(n - m)
	denom := expYes + expNo
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0, ErrNonFinite
	}
	p := expYes / denom
	if math.IsNaN(p) {
		return 0, ErrNonFinite
	}
	return p, nil
}

// maxSearchQuantity bounds the doubling search in QuantityForBudget so a
// pathological budget can't spin forever; no real market needs contracts
// beyond this.
const maxSearchQuantity = 1_000_000_000

// QuantityForBudget finds the largest non-negative integer quantity q such
// that the cost (mode=buy) or payout (mode=sell) of q contracts on the given
// side does not exceed budget. It first doubles q until the cost/payout
// exceeds budget (or the search cap is hit), then binary-searches the
// integer boundary. Side selects which inventory leg absorbs the trade:
// true for YES, false for NO. When isSell is true, the payout for qty
// contracts is the negative of the cost of *removing* qty contracts from
// that same side's inventory -- not the buy cost of the opposite side,
// which is a different quantity entirely.
func QuantityForBudget(b, qYes, qNo, budget float64, yesSide, isSell bool) (int64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	if budget <= 0 {
		return 0, nil
	}

	costFor := func(qty int64) (float64, error) {
		dq := float64(qty)
		if isSell {
			dq = -dq
		}
		var d float64
		var err error
		if yesSide {
			d, err = Delta(b, qYes, qNo, dq, 0)
		} else {
			d, err = Delta(b, qYes, qNo, 0, dq)
		}
		if err != nil {
			return 0, err
		}
		if isSell {
			d = -d
		}
		return d, nil
	}

	// Doubling search for an upper bound where cost exceeds budget.
	var lo, hi int64 = 0, 1
	for hi < maxSearchQuantity {
		cost, err := costFor(hi)
		if err != nil {
			return 0, err
		}
		if cost > budget {
			break
		}
		lo = hi
		hi *= 2
	}
	if hi > maxSearchQuantity {
		hi = maxSearchQuantity
	}
	if cost, err := costFor(hi); err == nil && cost <= budget {
		// Budget covers the entire search cap; clamp there.
		return hi, nil
	}

	// Binary search the largest qty in (lo, hi] affordable within budget.
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		cost, err := costFor(mid)
		if err != nil {
			return 0, err
		}
		if cost <= budget {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}
