// Package creditplan provides credit plan value types and pure
// functions for balance and validity math.
package creditplan

import (
	"errors"
	"time"
)

// Status of a plan. Exactly one plan per service may be Active.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// DefaultDenom is the token denomination used when none is supplied.
const DefaultDenom = "uHID"

var (
	// ErrPlanNotFound is returned by stores when no plan matches.
	ErrPlanNotFound = errors.New("credit plan not found")

	// ErrNoUsablePlan signals that neither the active plan nor any
	// fallback can cover a required cost.
	ErrNoUsablePlan = errors.New("insufficient credits or no active plan")

	// ErrCapExceeded is returned when a usage application would push a
	// counter past its cap.
	ErrCapExceeded = errors.New("usage would exceed plan cap")
)

// TokenGrant is the secondary-currency allowance attached to a plan.
type TokenGrant struct {
	Amount int64
	Used   int64
	Denom  string
}

// Plan is a tenant's purchased usage allowance and its consumption
// state. One row per subscription period.
type Plan struct {
	ID           string
	ServiceID    string
	TotalCredits int64
	Used         int64
	CreditDenom  string
	Token        TokenGrant
	ValidityDays int
	ExpiresAt    *time.Time // set on activation only
	Status       Status
	Scope        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemainingCredits returns the unconsumed internal-currency balance.
func (p Plan) RemainingCredits() int64 {
	return p.TotalCredits - p.Used
}

// RemainingTokens returns the unconsumed token balance.
func (p Plan) RemainingTokens() int64 {
	return p.Token.Amount - p.Token.Used
}

// Expired reports whether an activated plan's validity window has
// passed. Plans never activated cannot be expired.
func (p Plan) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Remaining returns both balances as a Cost.
func (p Plan) Remaining() Cost {
	return Cost{Credits: p.RemainingCredits(), Tokens: p.RemainingTokens()}
}

// CanCover reports whether the plan's remaining balances cover c.
func (p Plan) CanCover(c Cost) bool {
	return p.RemainingCredits() >= c.Credits && p.RemainingTokens() >= c.Tokens
}

// ValidityUnit is the input unit for a plan's validity window.
type ValidityUnit string

const (
	UnitDays  ValidityUnit = "DAYS"
	UnitWeek  ValidityUnit = "WEEK"
	UnitMonth ValidityUnit = "MONTH"
	UnitYear  ValidityUnit = "YEAR"
)

// NormalizeValidity converts a validity duration to days. Unknown
// units are treated as days.
func NormalizeValidity(n int, unit ValidityUnit) int {
	switch unit {
	case UnitWeek:
		return n * 7
	case UnitMonth:
		return n * 30
	case UnitYear:
		return n * 365
	default:
		return n
	}
}

// ExpiryFrom computes the expiry timestamp for a plan activated at now.
func ExpiryFrom(now time.Time, validityDays int) time.Time {
	return now.AddDate(0, 0, validityDays)
}
