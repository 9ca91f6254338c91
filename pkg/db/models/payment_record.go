package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// PaymentRecord is the append-mostly ledger entry for a charge or
// subscription attempt. Rows are never deleted; status moves forward via
// status-gated conditional updates.
type PaymentRecord struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID  `gorm:"column:account_id;type:uuid;not null;index:idx_payment_records_account_created"`
	PlanID    uuid.UUID  `gorm:"column:plan_id;type:uuid;not null"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid"`

	Mode        enums.PaymentMode   `gorm:"column:mode;type:payment_mode;not null"`
	Status      enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Currency    string              `gorm:"column:currency;not null;default:'usd'"`

	// External processor references; nil until the processor responds.
	StripeReference  *string `gorm:"column:stripe_reference;uniqueIndex"`
	StripeCustomerID *string `gorm:"column:stripe_customer_id"`

	// Addon snapshot at time of purchase, reconstructible without the account.
	TeacherSeats       int   `gorm:"column:teacher_seats;not null;default:0"`
	StudentSeats       int   `gorm:"column:student_seats;not null;default:0"`
	AddonCostCents     int64 `gorm:"column:addon_cost_cents;not null;default:0"`
	BasePlanPriceCents int64 `gorm:"column:base_plan_price_cents;not null;default:0"`
	TotalCostCents     int64 `gorm:"column:total_cost_cents;not null;default:0"`

	BillingCycle enums.BillingCycle `gorm:"column:billing_cycle;type:billing_cycle;not null"`

	// Conversion type, idempotency key, credit amounts.
	Metadata json.RawMessage `gorm:"column:metadata;type:jsonb"`

	FailureReason *string    `gorm:"column:failure_reason"`
	EmailSentAt   *time.Time `gorm:"column:email_sent_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_payment_records_account_created"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// PaymentMetadata is the typed shape of PaymentRecord.Metadata.
type PaymentMetadata struct {
	ConversionType    enums.ConversionType `json:"conversion_type,omitempty"`
	IdempotencyKey    string               `json:"idempotency_key,omitempty"`
	CreditCents       int64                `json:"credit_cents,omitempty"`
	ExcessCreditCents int64                `json:"excess_credit_cents,omitempty"`
}
