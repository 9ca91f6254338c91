package enums

import "fmt"

// BillingCycle identifies how an account is billed.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleOneTime BillingCycle = "one_time"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleYearly,
	BillingCycleOneTime,
}

// String implements fmt.Stringer.
func (c BillingCycle) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsRecurring reports whether the cycle renews on a schedule.
func (c BillingCycle) IsRecurring() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// ParseBillingCycle converts raw input into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	for _, candidate := range validBillingCycles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
