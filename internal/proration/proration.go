// Package proration computes unused-time credit when an account converts
// billing cycles or plans. All functions are pure: the only clock is the
// caller-supplied now.
package proration

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// Nominal cycle lengths. The month is a flat 30 days and the year a flat
// 365 regardless of calendar; changing these changes financial output.
const (
	DaysMonthly = 30
	DaysYearly  = 365
)

// PriorPayment is the slice of a ledger row the calculator needs.
type PriorPayment struct {
	TotalPaidCents int64
	AddonCostCents int64
	Cycle          enums.BillingCycle
	PurchasedAt    time.Time
}

// Quote is the full breakdown of a conversion computation.
type Quote struct {
	DaysUsed          int64
	DaysRemaining     int64
	CycleLengthDays   int64
	BasePaidCents     int64
	CreditCents       int64
	NewBaseCents      int64
	NewAddonCents     int64
	ChargeCents       int64
	ExcessCreditCents int64
	NoPaymentRequired bool
}

// WindowEnd returns when a subscription window confirmed at the given time
// expires. Unlike credit math, the window follows the calendar.
func WindowEnd(confirmedAt time.Time, cycle enums.BillingCycle) time.Time {
	if cycle == enums.BillingCycleYearly {
		return confirmedAt.AddDate(1, 0, 0)
	}
	return confirmedAt.AddDate(0, 1, 0)
}

// CycleLengthDays returns the nominal cycle length for credit computation.
func CycleLengthDays(cycle enums.BillingCycle) int64 {
	if cycle == enums.BillingCycleYearly {
		return DaysYearly
	}
	return DaysMonthly
}

// DaysUsed is the whole days elapsed since purchase, never negative.
func DaysUsed(purchasedAt, now time.Time) int64 {
	elapsed := now.Sub(purchasedAt)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / (24 * time.Hour))
}

// Credit computes the unused-time credit for a prior payment. Addon cost is
// excluded from the credit: seat add-ons are consumed immediately. The
// result is clamped to [0, basePaid].
func Credit(prior PriorPayment, now time.Time) (creditCents, daysUsed, daysRemaining int64) {
	cycleDays := CycleLengthDays(prior.Cycle)
	daysUsed = DaysUsed(prior.PurchasedAt, now)
	daysRemaining = cycleDays - daysUsed
	if daysRemaining < 0 {
		daysRemaining = 0
	}

	basePaid := prior.TotalPaidCents - prior.AddonCostCents
	if basePaid <= 0 {
		return 0, daysUsed, daysRemaining
	}

	credit := decimal.NewFromInt(daysRemaining).
		Div(decimal.NewFromInt(cycleDays)).
		Mul(decimal.NewFromInt(basePaid)).
		Round(0).
		IntPart()
	if credit < 0 {
		credit = 0
	}
	if credit > basePaid {
		credit = basePaid
	}
	return credit, daysUsed, daysRemaining
}

// Convert prices a plan/cycle conversion. A nil prior payment or a trialing
// account yields zero credit: trials have no unused paid time.
func Convert(prior *PriorPayment, trialing bool, newBaseCents, newAddonCents int64, now time.Time) Quote {
	quote := Quote{
		NewBaseCents:  newBaseCents,
		NewAddonCents: newAddonCents,
	}

	if prior != nil {
		quote.CycleLengthDays = CycleLengthDays(prior.Cycle)
		quote.BasePaidCents = prior.TotalPaidCents - prior.AddonCostCents
		if quote.BasePaidCents < 0 {
			quote.BasePaidCents = 0
		}
		if !trialing {
			quote.CreditCents, quote.DaysUsed, quote.DaysRemaining = Credit(*prior, now)
		} else {
			quote.DaysUsed = DaysUsed(prior.PurchasedAt, now)
		}
	}

	newTotal := newBaseCents + newAddonCents
	charge := newTotal - quote.CreditCents
	if charge < 0 {
		quote.ExcessCreditCents = -charge
		charge = 0
	}
	quote.ChargeCents = charge
	quote.NoPaymentRequired = charge == 0
	return quote
}
