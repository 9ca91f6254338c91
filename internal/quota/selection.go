package quota

import (
	"fmt"

	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

// MaxAddonSeats bounds a single purchase's seat count per addon kind.
const MaxAddonSeats = 10000

// ValidateSelection bounds-checks requested addon seat counts before any
// charge is attempted.
func ValidateSelection(teacherSeats, studentSeats int) error {
	for name, count := range map[string]int{
		"teacher_seats": teacherSeats,
		"student_seats": studentSeats,
	} {
		if count < 0 || count > MaxAddonSeats {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("%s must be between 0 and %d", name, MaxAddonSeats)).
				WithDetails(map[string]any{"field": name, "value": count})
		}
	}
	return nil
}
