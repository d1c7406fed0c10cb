// Package domain defines the proration calculator used to bill immediate
// tier upgrades. Deferred downgrades are never billed through this path.
package domain

import (
	"errors"

	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
)

// BillingCycleDays is the standard cycle length the daily rate derives from.
const BillingCycleDays = 30

type Service interface {
	// Prorate returns the billing delta in minor units for switching from
	// current to next with daysRemaining left in the cycle:
	//
	//	round(daysRemaining × (monthly(next) − monthly(current)) / 30)
	//
	// All arithmetic stays in integers; rounding happens once, half away
	// from zero, at the final division. The result is antisymmetric:
	// Prorate(a, b, d) == -Prorate(b, a, d).
	Prorate(current, next tierdomain.Tier, daysRemaining int) (int64, error)
}

var ErrInvalidDaysRemaining = errors.New("invalid_days_remaining")
