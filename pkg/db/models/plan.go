package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Plan captures the billable catalog entry for a subscription tier.
// Prices are stored in major currency units (numeric) and converted to
// minor units at the catalog boundary.
type Plan struct {
	ID   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Slug string    `gorm:"column:slug;not null;uniqueIndex"`
	Name string    `gorm:"column:name;not null"`

	BasePriceMonthly decimal.Decimal `gorm:"column:base_price_monthly;type:numeric(12,2);not null"`
	BasePriceYearly  decimal.Decimal `gorm:"column:base_price_yearly;type:numeric(12,2);not null"`

	TeacherSeatPriceMonthly decimal.Decimal `gorm:"column:teacher_seat_price_monthly;type:numeric(12,2);not null"`
	TeacherSeatPriceYearly  decimal.Decimal `gorm:"column:teacher_seat_price_yearly;type:numeric(12,2);not null"`
	StudentSeatPriceMonthly decimal.Decimal `gorm:"column:student_seat_price_monthly;type:numeric(12,2);not null"`
	StudentSeatPriceYearly  decimal.Decimal `gorm:"column:student_seat_price_yearly;type:numeric(12,2);not null"`

	MaxTeachers int `gorm:"column:max_teachers;not null;default:0"`
	MaxStudents int `gorm:"column:max_students;not null;default:0"`
	MaxClasses  int `gorm:"column:max_classes;not null;default:0"`
	MaxSchools  int `gorm:"column:max_schools;not null;default:1"`

	TrialDays       int            `gorm:"column:trial_days;not null;default:0"`
	Active          bool           `gorm:"column:active;not null;default:true"`
	Features        pq.StringArray `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	StripeProductID *string        `gorm:"column:stripe_product_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// MultiSeat reports whether the plan provisions more than one teacher seat,
// which decides the role of an implicitly created owner user.
func (p Plan) MultiSeat() bool {
	return p.MaxTeachers > 1
}
