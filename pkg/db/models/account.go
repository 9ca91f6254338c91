package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// Account is the tenant billing identity. Mutated optimistically by the
// checkout orchestrator and authoritatively by the webhook reconciler.
type Account struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string     `gorm:"column:name;not null"`
	OwnerUserID *uuid.UUID `gorm:"column:owner_user_id;type:uuid"`
	OwnerEmail  string     `gorm:"column:owner_email;not null"`

	PlanID             *uuid.UUID               `gorm:"column:plan_id;type:uuid;index"`
	SubscriptionStatus enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status;not null;default:'trial'"`
	BillingCycle       enums.BillingCycle       `gorm:"column:billing_cycle;type:billing_cycle;not null;default:'monthly'"`

	SubscriptionStartDate *time.Time `gorm:"column:subscription_start_date"`
	SubscriptionEndDate   *time.Time `gorm:"column:subscription_end_date"`
	HasUsedTrial          bool       `gorm:"column:has_used_trial;not null;default:false"`

	StripeCustomerID     *string `gorm:"column:stripe_customer_id;index"`
	StripeSubscriptionID *string `gorm:"column:stripe_subscription_id"`

	// Purchased seat add-ons widening the plan caps.
	ExtraTeacherSeats int `gorm:"column:extra_teacher_seats;not null;default:0"`
	ExtraStudentSeats int `gorm:"column:extra_student_seats;not null;default:0"`

	// Unconsumed proration credit, minor currency units.
	CreditBalanceCents int64 `gorm:"column:credit_balance_cents;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
