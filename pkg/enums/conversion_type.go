package enums

import "fmt"

// ConversionType names the billing-cycle transition an upgrade performs.
type ConversionType string

const (
	ConversionTrialToMonthly   ConversionType = "trial_to_monthly"
	ConversionTrialToYearly    ConversionType = "trial_to_yearly"
	ConversionYearlyToMonthly  ConversionType = "yearly_to_monthly"
	ConversionMonthlyToYearly  ConversionType = "monthly_to_yearly"
	ConversionMonthlyToMonthly ConversionType = "monthly_to_monthly"
	ConversionYearlyToYearly   ConversionType = "yearly_to_yearly"
)

var validConversionTypes = []ConversionType{
	ConversionTrialToMonthly,
	ConversionTrialToYearly,
	ConversionYearlyToMonthly,
	ConversionMonthlyToYearly,
	ConversionMonthlyToMonthly,
	ConversionYearlyToYearly,
}

// String implements fmt.Stringer.
func (c ConversionType) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c ConversionType) IsValid() bool {
	for _, candidate := range validConversionTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConversionType converts raw input into a ConversionType.
func ParseConversionType(value string) (ConversionType, error) {
	for _, candidate := range validConversionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conversion type %q", value)
}
