package enums

import "fmt"

// AddonKind identifies a purchasable seat add-on.
type AddonKind string

const (
	AddonKindTeacherSeat AddonKind = "teacher_seat"
	AddonKindStudentSeat AddonKind = "student_seat"
)

var validAddonKinds = []AddonKind{
	AddonKindTeacherSeat,
	AddonKindStudentSeat,
}

// String implements fmt.Stringer.
func (k AddonKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k AddonKind) IsValid() bool {
	for _, candidate := range validAddonKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseAddonKind converts raw input into an AddonKind.
func ParseAddonKind(value string) (AddonKind, error) {
	for _, candidate := range validAddonKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid addon kind %q", value)
}
