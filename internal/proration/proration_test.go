package proration

import (
	"testing"
	"time"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestYearlyToMonthlyAfter300Days(t *testing.T) {
	// Yearly plan bought 300 days ago for $240, no addons; converting to
	// $25/month. daysRemaining=65, credit=(65/365)*24000 ≈ 4274.
	prior := PriorPayment{
		TotalPaidCents: 24000,
		AddonCostCents: 0,
		Cycle:          enums.BillingCycleYearly,
		PurchasedAt:    baseTime.Add(-300 * 24 * time.Hour),
	}

	quote := Convert(&prior, false, 2500, 0, baseTime)

	if quote.DaysUsed != 300 {
		t.Fatalf("expected 300 days used, got %d", quote.DaysUsed)
	}
	if quote.DaysRemaining != 65 {
		t.Fatalf("expected 65 days remaining, got %d", quote.DaysRemaining)
	}
	if quote.CreditCents != 4274 {
		t.Fatalf("expected 4274 credit, got %d", quote.CreditCents)
	}
	if quote.ChargeCents != 0 {
		t.Fatalf("credit exceeds one month, expected zero charge, got %d", quote.ChargeCents)
	}
	if !quote.NoPaymentRequired {
		t.Fatalf("expected no payment required")
	}
	if quote.ExcessCreditCents != 4274-2500 {
		t.Fatalf("expected %d excess credit, got %d", 4274-2500, quote.ExcessCreditCents)
	}
}

func TestTrialingAccountsGetNoCredit(t *testing.T) {
	// Trialing account upgrading to $240/year + 1 teacher seat at $60/year
	// pays the full $300.
	prior := PriorPayment{
		TotalPaidCents: 0,
		AddonCostCents: 0,
		Cycle:          enums.BillingCycleMonthly,
		PurchasedAt:    baseTime.Add(-5 * 24 * time.Hour),
	}

	quote := Convert(&prior, true, 24000, 6000, baseTime)

	if quote.CreditCents != 0 {
		t.Fatalf("trialing accounts receive no credit, got %d", quote.CreditCents)
	}
	if quote.ChargeCents != 30000 {
		t.Fatalf("expected full 30000 charge, got %d", quote.ChargeCents)
	}
	if quote.NoPaymentRequired {
		t.Fatalf("charge is due")
	}
}

func TestAddonCostNeverProrated(t *testing.T) {
	// $240 paid total, $60 of it addons; only the $180 base earns credit.
	prior := PriorPayment{
		TotalPaidCents: 24000,
		AddonCostCents: 6000,
		Cycle:          enums.BillingCycleYearly,
		PurchasedAt:    baseTime,
	}

	credit, _, remaining := Credit(prior, baseTime)
	if remaining != 365 {
		t.Fatalf("expected full cycle remaining, got %d", remaining)
	}
	if credit != 18000 {
		t.Fatalf("day-zero credit should equal base paid 18000, got %d", credit)
	}
}

func TestCreditClampedToBasePaid(t *testing.T) {
	prior := PriorPayment{
		TotalPaidCents: 5000,
		AddonCostCents: 6000, // addons exceed total paid
		Cycle:          enums.BillingCycleMonthly,
		PurchasedAt:    baseTime,
	}
	credit, _, _ := Credit(prior, baseTime)
	if credit != 0 {
		t.Fatalf("credit must clamp at zero, got %d", credit)
	}
}

func TestCreditMonotonicInDaysUsed(t *testing.T) {
	prior := PriorPayment{
		TotalPaidCents: 24000,
		Cycle:          enums.BillingCycleYearly,
	}
	previous := int64(1 << 62)
	for days := 0; days <= 400; days += 10 {
		prior.PurchasedAt = baseTime.Add(-time.Duration(days) * 24 * time.Hour)
		credit, _, _ := Credit(prior, baseTime)
		if credit > previous {
			t.Fatalf("credit increased from %d to %d at %d days used", previous, credit, days)
		}
		if credit < 0 || credit > 24000 {
			t.Fatalf("credit %d out of [0, basePaid] at %d days used", credit, days)
		}
		previous = credit
	}
}

func TestExpiredCycleYieldsNoCredit(t *testing.T) {
	prior := PriorPayment{
		TotalPaidCents: 2500,
		Cycle:          enums.BillingCycleMonthly,
		PurchasedAt:    baseTime.Add(-45 * 24 * time.Hour),
	}
	credit, used, remaining := Credit(prior, baseTime)
	if used != 45 {
		t.Fatalf("expected 45 days used, got %d", used)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 days remaining, got %d", remaining)
	}
	if credit != 0 {
		t.Fatalf("expired cycle earns no credit, got %d", credit)
	}
}

func TestChargeNeverNegative(t *testing.T) {
	prior := PriorPayment{
		TotalPaidCents: 100000,
		Cycle:          enums.BillingCycleYearly,
		PurchasedAt:    baseTime,
	}
	quote := Convert(&prior, false, 1000, 0, baseTime)
	if quote.ChargeCents != 0 {
		t.Fatalf("charge must floor at zero, got %d", quote.ChargeCents)
	}
	if quote.ExcessCreditCents != 99000 {
		t.Fatalf("expected 99000 excess credit, got %d", quote.ExcessCreditCents)
	}
}

func TestFirstPurchaseHasNoPriorCredit(t *testing.T) {
	quote := Convert(nil, false, 2500, 1000, baseTime)
	if quote.CreditCents != 0 {
		t.Fatalf("no prior payment means no credit")
	}
	if quote.ChargeCents != 3500 {
		t.Fatalf("expected 3500 charge, got %d", quote.ChargeCents)
	}
}

func TestFutureDatedPurchaseCountsZeroDaysUsed(t *testing.T) {
	if DaysUsed(baseTime.Add(24*time.Hour), baseTime) != 0 {
		t.Fatalf("future purchase dates clamp to zero days used")
	}
}
