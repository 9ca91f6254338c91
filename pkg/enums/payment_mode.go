package enums

import "fmt"

// PaymentMode distinguishes one-time charges from recurring subscriptions.
type PaymentMode string

const (
	PaymentModeOneTime      PaymentMode = "one_time"
	PaymentModeSubscription PaymentMode = "subscription"
)

var validPaymentModes = []PaymentMode{
	PaymentModeOneTime,
	PaymentModeSubscription,
}

// String implements fmt.Stringer.
func (m PaymentMode) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m PaymentMode) IsValid() bool {
	for _, candidate := range validPaymentModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePaymentMode converts raw input into a PaymentMode.
func ParsePaymentMode(value string) (PaymentMode, error) {
	for _, candidate := range validPaymentModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment mode %q", value)
}
