package enums

import "fmt"

// QuotaKind identifies a capped tenant resource.
type QuotaKind string

const (
	QuotaKindTeacher QuotaKind = "teacher"
	QuotaKindStudent QuotaKind = "student"
	QuotaKindClass   QuotaKind = "class"
	QuotaKindSchool  QuotaKind = "school"
)

var validQuotaKinds = []QuotaKind{
	QuotaKindTeacher,
	QuotaKindStudent,
	QuotaKindClass,
	QuotaKindSchool,
}

// String implements fmt.Stringer.
func (k QuotaKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k QuotaKind) IsValid() bool {
	for _, candidate := range validQuotaKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseQuotaKind converts raw input into a QuotaKind.
func ParseQuotaKind(value string) (QuotaKind, error) {
	for _, candidate := range validQuotaKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quota kind %q", value)
}
