package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// RefundRequest records a user-initiated refund and its approval workflow.
// One request per payment, enforced by the unique index.
type RefundRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null;index"`

	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Status      enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending'"`
	Reason      string             `gorm:"column:reason;not null"`

	StripeRefundID *string    `gorm:"column:stripe_refund_id"`
	ApprovedAt     *time.Time `gorm:"column:approved_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
