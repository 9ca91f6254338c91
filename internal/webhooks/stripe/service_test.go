package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/internal/users"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/pagination"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type transitionCall struct {
	id      uuid.UUID
	to      enums.PaymentStatus
	updates map[string]any
}

type stubPayments struct {
	records           map[string]*models.PaymentRecord
	transitionResults []bool
	transitions       []transitionCall
	emailMarks        int
}

func (s *stubPayments) WithTx(tx *gorm.DB) payments.Repository { return s }
func (s *stubPayments) Create(ctx context.Context, record *models.PaymentRecord) error {
	return nil
}
func (s *stubPayments) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) FindByStripeReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	return s.records[reference], nil
}
func (s *stubPayments) FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string, since time.Time) (*models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) FindLatestSucceeded(ctx context.Context, accountID uuid.UUID) (*models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) FindSucceededSince(ctx context.Context, accountID uuid.UUID, cycle *enums.BillingCycle, since time.Time) ([]models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) SetStripeReference(ctx context.Context, id uuid.UUID, reference, customerID string) error {
	return nil
}
func (s *stubPayments) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	s.transitions = append(s.transitions, transitionCall{id: id, to: to, updates: updates})
	if len(s.transitionResults) > 0 {
		result := s.transitionResults[0]
		s.transitionResults = s.transitionResults[1:]
		return result, nil
	}
	return true, nil
}
func (s *stubPayments) MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.emailMarks++
	return s.emailMarks == 1, nil
}
func (s *stubPayments) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error) {
	return nil, nil, nil
}

type stubAccounts struct {
	account *models.Account
	updates []map[string]any
	credits []int64
}

func (s *stubAccounts) WithTx(tx *gorm.DB) accounts.Repository { return s }
func (s *stubAccounts) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if s.account != nil && s.account.ID == id {
		return s.account, nil
	}
	return nil, nil
}
func (s *stubAccounts) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if s.account != nil && s.account.StripeCustomerID != nil && *s.account.StripeCustomerID == customerID {
		return s.account, nil
	}
	return nil, nil
}
func (s *stubAccounts) Update(ctx context.Context, account *models.Account) error { return nil }
func (s *stubAccounts) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	s.updates = append(s.updates, fields)
	return nil
}
func (s *stubAccounts) AddCreditBalance(ctx context.Context, id uuid.UUID, deltaCents int64) error {
	s.credits = append(s.credits, deltaCents)
	return nil
}

type stubUsers struct {
	created []*models.User
}

func (s *stubUsers) WithTx(tx *gorm.DB) users.Repository { return s }
func (s *stubUsers) Create(ctx context.Context, user *models.User) error {
	s.created = append(s.created, user)
	return nil
}
func (s *stubUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return nil, nil
}
func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, nil
}
func (s *stubUsers) CountActiveByRole(ctx context.Context, accountID uuid.UUID, role enums.UserRole) (int64, error) {
	return 0, nil
}

type stubCatalog struct {
	plan *models.Plan
}

func (s *stubCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plan, nil
}

type seatGrant struct {
	teacher int
	student int
}

type stubQuota struct {
	applied []seatGrant
}

func (s *stubQuota) ApplyAddons(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, teacherSeats, studentSeats int) error {
	s.applied = append(s.applied, seatGrant{teacher: teacherSeats, student: studentSeats})
	return nil
}

type sentNotification struct {
	kind  enums.NotificationType
	email string
}

type stubNotifier struct {
	sent []sentNotification
}

func (s *stubNotifier) Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationType, title, message, email string) error {
	s.sent = append(s.sent, sentNotification{kind: kind, email: email})
	return nil
}

type stubProcessor struct {
	cancelled []string
}

func (s *stubProcessor) CancelSubscription(ctx context.Context, id string) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}

type stubTx struct{}

func (s *stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixture struct {
	service       *Service
	payments      *stubPayments
	accounts      *stubAccounts
	users         *stubUsers
	quota         *stubQuota
	notifications *stubNotifier
	processor     *stubProcessor
}

func newFixture(t *testing.T, account *models.Account, plan *models.Plan) *fixture {
	t.Helper()
	f := &fixture{
		payments:      &stubPayments{records: map[string]*models.PaymentRecord{}},
		accounts:      &stubAccounts{account: account},
		users:         &stubUsers{},
		quota:         &stubQuota{},
		notifications: &stubNotifier{},
		processor:     &stubProcessor{},
	}
	service, err := NewService(ServiceParams{
		Payments:          f.payments,
		Accounts:          f.accounts,
		Users:             f.users,
		Catalog:           &stubCatalog{plan: plan},
		Quota:             f.quota,
		Notifications:     f.notifications,
		Processor:         f.processor,
		TransactionRunner: &stubTx{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:               func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.service = service
	return f
}

func testAccount() *models.Account {
	customerID := "cus_1"
	return &models.Account{
		ID:                 uuid.New(),
		Name:               "Lincoln Elementary",
		OwnerEmail:         "owner@school.test",
		SubscriptionStatus: enums.SubscriptionStatusTrial,
		BillingCycle:       enums.BillingCycleMonthly,
		StripeCustomerID:   &customerID,
	}
}

func testPlan(maxTeachers int) *models.Plan {
	return &models.Plan{ID: uuid.New(), Slug: "single-class", Name: "Single Class", MaxTeachers: maxTeachers, Active: true}
}

func pendingRecord(account *models.Account, plan *models.Plan, reference string) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:              uuid.New(),
		AccountID:       account.ID,
		PlanID:          plan.ID,
		Mode:            enums.PaymentModeOneTime,
		Status:          enums.PaymentStatusPending,
		AmountCents:     2500,
		Currency:        "usd",
		TeacherSeats:    2,
		BillingCycle:    enums.BillingCycleMonthly,
		StripeReference: &reference,
	}
}

func rawEvent(eventType stripe.EventType, raw string) *stripe.Event {
	return &stripe.Event{
		ID:   "evt_1",
		Type: eventType,
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestPaymentIntentSucceededAppliesPurchase(t *testing.T) {
	account := testAccount()
	plan := testPlan(1)
	f := newFixture(t, account, plan)
	record := pendingRecord(account, plan, "pi_1")
	f.payments.records["pi_1"] = record

	err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypePaymentIntentSucceeded, `{"id":"pi_1"}`))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(f.payments.transitions) != 1 || f.payments.transitions[0].to != enums.PaymentStatusSucceeded {
		t.Fatalf("expected transition to succeeded, got %+v", f.payments.transitions)
	}
	if len(f.accounts.updates) != 1 {
		t.Fatalf("expected one account update, got %d", len(f.accounts.updates))
	}
	updates := f.accounts.updates[0]
	if updates["subscription_status"] != enums.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %v", updates["subscription_status"])
	}
	if updates["subscription_end_date"] != testNow.AddDate(0, 1, 0) {
		t.Fatalf("expected one month window, got %v", updates["subscription_end_date"])
	}
	if len(f.quota.applied) != 1 || f.quota.applied[0].teacher != 2 {
		t.Fatalf("expected seat addons applied, got %+v", f.quota.applied)
	}
	if len(f.users.created) != 1 || f.users.created[0].Role != enums.UserRoleTeacher {
		t.Fatalf("expected a teacher owner on a single-seat plan, got %+v", f.users.created)
	}
	if updates["owner_user_id"] != f.users.created[0].ID {
		t.Fatalf("expected owner linked on account")
	}
	if len(f.notifications.sent) != 1 || f.notifications.sent[0].kind != enums.NotificationPaymentSucceeded {
		t.Fatalf("expected a success notification, got %+v", f.notifications.sent)
	}
}

func TestMultiSeatPlanProvisionsAdmin(t *testing.T) {
	account := testAccount()
	plan := testPlan(25)
	f := newFixture(t, account, plan)
	f.payments.records["pi_1"] = pendingRecord(account, plan, "pi_1")

	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypePaymentIntentSucceeded, `{"id":"pi_1"}`)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.users.created) != 1 || f.users.created[0].Role != enums.UserRoleAdmin {
		t.Fatalf("expected an admin owner on a multi-seat plan, got %+v", f.users.created)
	}
}

func TestDoubleDeliveryIsNoOp(t *testing.T) {
	account := testAccount()
	plan := testPlan(1)
	f := newFixture(t, account, plan)
	f.payments.records["pi_1"] = pendingRecord(account, plan, "pi_1")
	f.payments.transitionResults = []bool{true, false}

	event := rawEvent(stripe.EventTypePaymentIntentSucceeded, `{"id":"pi_1"}`)
	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(f.accounts.updates) != 1 {
		t.Fatalf("second delivery must not mutate the account, got %d updates", len(f.accounts.updates))
	}
	if len(f.notifications.sent) != 1 {
		t.Fatalf("second delivery must not notify again, got %d", len(f.notifications.sent))
	}
}

func TestPaymentFailedMarksRowAndNotifies(t *testing.T) {
	account := testAccount()
	plan := testPlan(1)
	f := newFixture(t, account, plan)
	f.payments.records["pi_1"] = pendingRecord(account, plan, "pi_1")

	raw := `{"id":"pi_1","last_payment_error":{"message":"card declined"}}`
	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypePaymentIntentPaymentFailed, raw)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(f.payments.transitions) != 1 || f.payments.transitions[0].to != enums.PaymentStatusFailed {
		t.Fatalf("expected transition to failed, got %+v", f.payments.transitions)
	}
	if f.payments.transitions[0].updates["failure_reason"] != "card declined" {
		t.Fatalf("expected decline reason on row, got %v", f.payments.transitions[0].updates)
	}
	if len(f.notifications.sent) != 1 || f.notifications.sent[0].kind != enums.NotificationPaymentFailed {
		t.Fatalf("expected a failure notification, got %+v", f.notifications.sent)
	}
	if len(f.accounts.updates) != 0 {
		t.Fatalf("failed one-time purchase must not touch the account, got %+v", f.accounts.updates)
	}
}

func TestConversionCancelsSupersededSubscriptionAndBanksCredit(t *testing.T) {
	account := testAccount()
	oldSub := "sub_old"
	account.StripeSubscriptionID = &oldSub
	account.SubscriptionStatus = enums.SubscriptionStatusActive
	account.BillingCycle = enums.BillingCycleYearly
	plan := testPlan(1)
	f := newFixture(t, account, plan)

	record := pendingRecord(account, plan, "pi_1")
	record.AmountCents = 0
	meta, _ := json.Marshal(models.PaymentMetadata{
		ConversionType:    enums.ConversionYearlyToMonthly,
		ExcessCreditCents: 1774,
	})
	record.Metadata = meta
	f.payments.records["pi_1"] = record

	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypePaymentIntentSucceeded, `{"id":"pi_1"}`)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(f.processor.cancelled) != 1 || f.processor.cancelled[0] != "sub_old" {
		t.Fatalf("expected superseded subscription cancelled, got %v", f.processor.cancelled)
	}
	updates := f.accounts.updates[0]
	if _, ok := updates["stripe_subscription_id"]; !ok {
		t.Fatalf("expected subscription reference cleared")
	}
	if len(f.accounts.credits) != 1 || f.accounts.credits[0] != 1774 {
		t.Fatalf("expected excess credit banked, got %v", f.accounts.credits)
	}
}

func TestSubscriptionDeletedCancelsAccount(t *testing.T) {
	account := testAccount()
	subID := "sub_1"
	account.StripeSubscriptionID = &subID
	f := newFixture(t, account, testPlan(1))

	raw := `{"id":"sub_1","customer":{"id":"cus_1"},"status":"canceled"}`
	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypeCustomerSubscriptionDeleted, raw)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(f.accounts.updates) != 1 {
		t.Fatalf("expected one account update, got %d", len(f.accounts.updates))
	}
	updates := f.accounts.updates[0]
	if updates["subscription_status"] != enums.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled status, got %v", updates["subscription_status"])
	}
}

func TestSubscriptionEventForStaleReferenceIgnored(t *testing.T) {
	account := testAccount()
	current := "sub_current"
	account.StripeSubscriptionID = &current
	f := newFixture(t, account, testPlan(1))

	raw := `{"id":"sub_stale","customer":{"id":"cus_1"},"status":"past_due"}`
	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypeCustomerSubscriptionUpdated, raw)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.accounts.updates) != 0 {
		t.Fatalf("stale subscription event must not mutate the account")
	}
}

func TestChargeRefundedMarksRow(t *testing.T) {
	account := testAccount()
	plan := testPlan(1)
	f := newFixture(t, account, plan)
	record := pendingRecord(account, plan, "pi_9")
	record.Status = enums.PaymentStatusSucceeded
	f.payments.records["pi_9"] = record

	event := &stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Object: map[string]interface{}{"payment_intent": "pi_9"}},
	}
	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(f.payments.transitions) != 1 || f.payments.transitions[0].to != enums.PaymentStatusRefunded {
		t.Fatalf("expected transition to refunded, got %+v", f.payments.transitions)
	}
}

func TestUnknownEventAcknowledged(t *testing.T) {
	f := newFixture(t, testAccount(), testPlan(1))

	if err := f.service.HandleEvent(context.Background(), rawEvent("product.created", `{}`)); err != nil {
		t.Fatalf("unknown event must be acknowledged, got %v", err)
	}
	if len(f.payments.transitions) != 0 || len(f.accounts.updates) != 0 {
		t.Fatalf("unknown event must not mutate state")
	}
}

func TestSuccessForUnknownReferenceSkipped(t *testing.T) {
	f := newFixture(t, testAccount(), testPlan(1))

	if err := f.service.HandleEvent(context.Background(), rawEvent(stripe.EventTypePaymentIntentSucceeded, `{"id":"pi_missing"}`)); err != nil {
		t.Fatalf("unknown reference must be acknowledged, got %v", err)
	}
	if len(f.payments.transitions) != 0 {
		t.Fatalf("unknown reference must not mutate state")
	}
}
