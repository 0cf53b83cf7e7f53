package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers can branch on failure category
// without string-matching messages (spec §7).
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindMarketNotFound     Kind = "market_not_found"
	KindUserNotFound       Kind = "user_not_found"
	KindPositionNotFound   Kind = "position_not_found"
	KindMarketSettled      Kind = "market_settled"
	KindAccessDenied       Kind = "access_denied"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInsufficientHold   Kind = "insufficient_holdings"
	KindBudgetInsufficient Kind = "budget_insufficient"
	KindAMMInsolvent       Kind = "amm_insolvent"
	KindCollateralShortage Kind = "collateral_shortfall"
	KindConsistency        Kind = "consistency_violation"
	KindPricingOverflow    Kind = "pricing_overflow"
)

// Fatal reports whether an error kind indicates an engine/state bug that
// should additionally surface to an operator channel, per spec §7's
// propagation policy, rather than just being reported to the caller.
func (k Kind) Fatal() bool {
	switch k {
	case KindConsistency, KindAMMInsolvent, KindCollateralShortage, KindPricingOverflow:
		return true
	default:
		return false
	}
}

// Error is the engine's typed error: a Kind plus a human-readable message.
// Callers use errors.As to recover the Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Msg)
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is lets errors.Is(err, ErrMarketSettled) etc. work against sentinel
// values constructed with the same Kind and an empty Msg.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrMarketNotFound     = &Error{Kind: KindMarketNotFound}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrPositionNotFound   = &Error{Kind: KindPositionNotFound}
	ErrMarketSettled      = &Error{Kind: KindMarketSettled}
	ErrAccessDenied       = &Error{Kind: KindAccessDenied}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientHold   = &Error{Kind: KindInsufficientHold}
	ErrBudgetInsufficient = &Error{Kind: KindBudgetInsufficient}
	ErrAMMInsolvent       = &Error{Kind: KindAMMInsolvent}
	ErrCollateralShortage = &Error{Kind: KindCollateralShortage}
	ErrConsistency        = &Error{Kind: KindConsistency}
	ErrPricingOverflow    = &Error{Kind: KindPricingOverflow}
)

// collateralTolerance is the epsilon (spec §4.2/§9) below which a negative
// collateral delta is treated as floating-point noise rather than a real
// invariant break.
const collateralTolerance = 1e-9
