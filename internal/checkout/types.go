package checkout

import (
	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/pkg/enums"
)

// AddonSelection is the requested seat add-ons for a purchase, snapshotted
// onto the ledger row.
type AddonSelection struct {
	TeacherSeats int `json:"teacher_seats"`
	StudentSeats int `json:"student_seats"`
}

// CheckoutInput describes a first purchase (one-time or subscription).
type CheckoutInput struct {
	AccountID       uuid.UUID
	PlanSlug        string
	Cycle           enums.BillingCycle
	Addons          AddonSelection
	PaymentMethodID string
}

// UpgradeInput describes a plan/cycle conversion for an existing tenant.
type UpgradeInput struct {
	AccountID      uuid.UUID
	NewPlanSlug    string
	Cycle          enums.BillingCycle
	Addons         AddonSelection
	IdempotencyKey string
}

// Breakdown itemizes how a charge was computed.
type Breakdown struct {
	BaseCents         int64                `json:"base_cents"`
	AddonCents        int64                `json:"addon_cents"`
	TotalCents        int64                `json:"total_cents"`
	CreditCents       int64                `json:"credit_cents"`
	ExcessCreditCents int64                `json:"excess_credit_cents"`
	ChargeCents       int64                `json:"charge_cents"`
	TeacherSeats      int                  `json:"teacher_seats"`
	StudentSeats      int                  `json:"student_seats"`
	Conversion        enums.ConversionType `json:"conversion,omitempty"`
}

// Result is the confirmable artifact handed back to the client.
type Result struct {
	PaymentID         uuid.UUID         `json:"payment_id"`
	ClientSecret      string            `json:"client_secret,omitempty"`
	CheckoutURL       string            `json:"checkout_url,omitempty"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency"`
	Mode              enums.PaymentMode `json:"mode"`
	NoPaymentRequired bool              `json:"no_payment_required"`
	Breakdown         Breakdown         `json:"breakdown"`
}

// Preview is the side-effect-free upgrade quote.
type Preview struct {
	Breakdown         Breakdown `json:"breakdown"`
	NoPaymentRequired bool      `json:"no_payment_required"`
}
