package checkout

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/pagination"
	stripegw "github.com/campuskit-io/campuskit-backend/pkg/stripe"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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

type transitionCall struct {
	id      uuid.UUID
	to      enums.PaymentStatus
	updates map[string]any
}

type stubPayments struct {
	created      []*models.PaymentRecord
	latest       *models.PaymentRecord
	recentYearly []models.PaymentRecord
	idempotent   *models.PaymentRecord
	refs         map[uuid.UUID]string
	transitions  []transitionCall
}

func (s *stubPayments) WithTx(tx *gorm.DB) payments.Repository { return s }
func (s *stubPayments) Create(ctx context.Context, record *models.PaymentRecord) error {
	s.created = append(s.created, record)
	return nil
}
func (s *stubPayments) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) FindByStripeReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPayments) FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string, since time.Time) (*models.PaymentRecord, error) {
	return s.idempotent, nil
}
func (s *stubPayments) FindLatestSucceeded(ctx context.Context, accountID uuid.UUID) (*models.PaymentRecord, error) {
	return s.latest, nil
}
func (s *stubPayments) FindSucceededSince(ctx context.Context, accountID uuid.UUID, cycle *enums.BillingCycle, since time.Time) ([]models.PaymentRecord, error) {
	return s.recentYearly, nil
}
func (s *stubPayments) SetStripeReference(ctx context.Context, id uuid.UUID, reference, customerID string) error {
	if s.refs == nil {
		s.refs = map[uuid.UUID]string{}
	}
	s.refs[id] = reference
	return nil
}
func (s *stubPayments) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	s.transitions = append(s.transitions, transitionCall{id: id, to: to, updates: updates})
	return true, nil
}
func (s *stubPayments) MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return true, nil
}
func (s *stubPayments) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error) {
	return nil, nil, nil
}

type stubCatalog struct {
	plan       *models.Plan
	productIDs []string
}

func (s *stubCatalog) GetBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	if s.plan != nil && s.plan.Slug == slug {
		return s.plan, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %q not found", slug))
}
func (s *stubCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plan, nil
}
func (s *stubCatalog) SetStripeProductID(ctx context.Context, id uuid.UUID, productID string) error {
	s.productIDs = append(s.productIDs, productID)
	return nil
}

type stubProcessor struct {
	intentAmount   int64 // overrides the echoed amount when non-zero
	subAmount      int64
	intentErr      error
	onCreateIntent func()

	customers        int
	intents          []stripegw.PaymentIntentInput
	cancelledIntents []string
	subs             []stripegw.SubscriptionInput
	cancelledSubs    []string
	sessions         []stripegw.CheckoutSessionInput
	prices           []stripegw.PriceInput
	attached         []string
}

func (s *stubProcessor) CreateCustomer(ctx context.Context, email, accountID string) (string, error) {
	s.customers++
	return "cus_test", nil
}
func (s *stubProcessor) CreatePaymentIntent(ctx context.Context, input stripegw.PaymentIntentInput) (*stripegw.PaymentIntentResult, error) {
	if s.onCreateIntent != nil {
		s.onCreateIntent()
	}
	if s.intentErr != nil {
		return nil, s.intentErr
	}
	s.intents = append(s.intents, input)
	amount := input.AmountCents
	if s.intentAmount != 0 {
		amount = s.intentAmount
	}
	return &stripegw.PaymentIntentResult{ID: "pi_test", ClientSecret: "pi_secret", AmountCents: amount}, nil
}
func (s *stubProcessor) CancelPaymentIntent(ctx context.Context, id string) error {
	s.cancelledIntents = append(s.cancelledIntents, id)
	return nil
}
func (s *stubProcessor) CreateSubscription(ctx context.Context, input stripegw.SubscriptionInput) (*stripegw.SubscriptionResult, error) {
	s.subs = append(s.subs, input)
	return &stripegw.SubscriptionResult{ID: "sub_test", Status: "incomplete", ClientSecret: "sub_secret", AmountCents: s.subAmount}, nil
}
func (s *stubProcessor) CancelSubscription(ctx context.Context, id string) error {
	s.cancelledSubs = append(s.cancelledSubs, id)
	return nil
}
func (s *stubProcessor) EnsurePrice(ctx context.Context, input stripegw.PriceInput) (*stripegw.PriceResult, error) {
	s.prices = append(s.prices, input)
	return &stripegw.PriceResult{PriceID: fmt.Sprintf("price_%d", len(s.prices)), ProductID: "prod_test"}, nil
}
func (s *stubProcessor) CreateCheckoutSession(ctx context.Context, input stripegw.CheckoutSessionInput) (*stripegw.CheckoutSessionResult, error) {
	s.sessions = append(s.sessions, input)
	return &stripegw.CheckoutSessionResult{ID: "cs_test", URL: "https://pay.test/cs_test"}, nil
}
func (s *stubProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://portal.test", nil
}
func (s *stubProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]stripegw.PaymentMethod, error) {
	return nil, nil
}
func (s *stubProcessor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	s.attached = append(s.attached, paymentMethodID)
	return nil
}

type stubTx struct {
	err error
}

func (s *stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(nil)
}

func testPlan() *models.Plan {
	return &models.Plan{
		ID:                      uuid.New(),
		Slug:                    "single-class",
		Name:                    "Single Class",
		BasePriceMonthly:        decimal.NewFromInt(25),
		BasePriceYearly:         decimal.NewFromInt(240),
		TeacherSeatPriceMonthly: decimal.NewFromInt(5),
		TeacherSeatPriceYearly:  decimal.NewFromInt(60),
		StudentSeatPriceMonthly: decimal.RequireFromString("0.50"),
		StudentSeatPriceYearly:  decimal.NewFromInt(5),
		MaxTeachers:             1,
		MaxStudents:             30,
		MaxClasses:              1,
		Active:                  true,
	}
}

func testAccount(status enums.SubscriptionStatus, cycle enums.BillingCycle) *models.Account {
	return &models.Account{
		ID:                 uuid.New(),
		Name:               "Lincoln Elementary",
		OwnerEmail:         "owner@school.test",
		SubscriptionStatus: status,
		BillingCycle:       cycle,
	}
}

type fixture struct {
	service   *Service
	accounts  *stubAccounts
	payments  *stubPayments
	catalog   *stubCatalog
	processor *stubProcessor
	tx        *stubTx
}

func newFixture(t *testing.T, account *models.Account) *fixture {
	t.Helper()
	f := &fixture{
		accounts:  &stubAccounts{account: account},
		payments:  &stubPayments{},
		catalog:   &stubCatalog{plan: testPlan()},
		processor: &stubProcessor{},
		tx:        &stubTx{},
	}
	service, err := NewService(ServiceParams{
		Catalog:    f.catalog,
		Accounts:   f.accounts,
		Payments:   f.payments,
		Processor:  f.processor,
		DB:         f.tx,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Currency:   "usd",
		SuccessURL: "https://app.test/billing/success",
		CancelURL:  "https://app.test/billing/cancel",
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.service = service
	return f
}

func succeededPayment(account *models.Account, cycle enums.BillingCycle, amount, addon int64, age time.Duration) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:             uuid.New(),
		AccountID:      account.ID,
		Status:         enums.PaymentStatusSucceeded,
		AmountCents:    amount,
		AddonCostCents: addon,
		BillingCycle:   cycle,
		CreatedAt:      testNow.Add(-age),
	}
}

func policyReason(t *testing.T, err error) string {
	t.Helper()
	billingErr := pkgerrors.As(err)
	if billingErr == nil {
		t.Fatalf("expected billing error, got %v", err)
	}
	if billingErr.Code() != pkgerrors.CodePolicy {
		t.Fatalf("expected policy code, got %s", billingErr.Code())
	}
	details, ok := billingErr.Details().(map[string]any)
	if !ok {
		t.Fatalf("policy error carries no details: %v", err)
	}
	reason, ok := details["reason"].(string)
	if !ok {
		t.Fatalf("policy error carries no reason detail: %v", err)
	}
	return reason
}

func TestCreateIntentWritesLedgerBeforeProcessor(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)

	var pendingAtCall int
	f.processor.onCreateIntent = func() { pendingAtCall = len(f.payments.created) }

	result, err := f.service.CreateIntent(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
		Addons:    AddonSelection{TeacherSeats: 1},
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if pendingAtCall != 1 {
		t.Fatalf("expected ledger row before processor call, had %d rows", pendingAtCall)
	}
	if result.AmountCents != 3000 {
		t.Fatalf("expected 3000 cents, got %d", result.AmountCents)
	}
	if result.ClientSecret != "pi_secret" {
		t.Fatalf("expected client secret, got %q", result.ClientSecret)
	}
	record := f.payments.created[0]
	if record.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending row, got %s", record.Status)
	}
	if got := f.payments.refs[record.ID]; got != "pi_test" {
		t.Fatalf("expected intent reference on row, got %q", got)
	}
	if f.processor.customers != 1 {
		t.Fatalf("expected customer creation, got %d", f.processor.customers)
	}
}

func TestCreateCheckoutBlocksActiveSubscription(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusActive, enums.BillingCycleMonthly)
	subID := "sub_existing"
	account.StripeSubscriptionID = &subID
	f := newFixture(t, account)

	_, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
	})
	if reason := policyReason(t, err); reason != reasonActiveSubscription {
		t.Fatalf("expected %s, got %s", reasonActiveSubscription, reason)
	}
	if len(f.payments.created) != 0 {
		t.Fatalf("guard failure must not write ledger rows")
	}
}

func TestCreateCheckoutPurchaseCooldown(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.payments.latest = succeededPayment(account, enums.BillingCycleMonthly, 2500, 0, 30*time.Minute)

	_, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
	})
	if reason := policyReason(t, err); reason != reasonPurchaseCooldown {
		t.Fatalf("expected %s, got %s", reasonPurchaseCooldown, reason)
	}
}

func TestCreateCheckoutDuplicateYearly(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.payments.latest = succeededPayment(account, enums.BillingCycleYearly, 24000, 0, 2*time.Hour)
	f.payments.recentYearly = []models.PaymentRecord{*f.payments.latest}

	_, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleYearly,
	})
	if reason := policyReason(t, err); reason != reasonDuplicateYearly {
		t.Fatalf("expected %s, got %s", reasonDuplicateYearly, reason)
	}
}

func TestCreateCheckoutSubscriptionFlow(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.processor.subAmount = 3500

	result, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
		Addons:    AddonSelection{TeacherSeats: 2},
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if result.ClientSecret != "sub_secret" {
		t.Fatalf("expected subscription client secret, got %q", result.ClientSecret)
	}
	if result.Mode != enums.PaymentModeSubscription {
		t.Fatalf("expected subscription mode, got %s", result.Mode)
	}
	if len(f.processor.prices) != 2 {
		t.Fatalf("expected base and teacher seat prices, got %d", len(f.processor.prices))
	}
	if len(f.processor.subs) != 1 || len(f.processor.subs[0].Items) != 2 {
		t.Fatalf("expected subscription with two line items")
	}
	if f.processor.subs[0].Items[1].Quantity != 2 {
		t.Fatalf("expected two teacher seats, got %d", f.processor.subs[0].Items[1].Quantity)
	}
	if len(f.catalog.productIDs) != 1 || f.catalog.productIDs[0] != "prod_test" {
		t.Fatalf("expected plan product id persisted")
	}

	record := f.payments.created[0]
	if got := f.payments.refs[record.ID]; got != "sub_test" {
		t.Fatalf("expected subscription reference, got %q", got)
	}
	if len(f.accounts.updates) == 0 {
		t.Fatalf("expected account update")
	}
	last := f.accounts.updates[len(f.accounts.updates)-1]
	if last["stripe_subscription_id"] != "sub_test" {
		t.Fatalf("expected subscription id on account, got %v", last["stripe_subscription_id"])
	}
	if last["subscription_status"] != enums.SubscriptionStatusPending {
		t.Fatalf("expected pending status, got %v", last["subscription_status"])
	}
}

func TestCreateCheckoutOneTimeUsesHostedSession(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)

	result, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleOneTime,
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if result.CheckoutURL != "https://pay.test/cs_test" {
		t.Fatalf("expected hosted session url, got %q", result.CheckoutURL)
	}
	if result.Mode != enums.PaymentModeOneTime {
		t.Fatalf("expected one_time mode, got %s", result.Mode)
	}
	record := f.payments.created[0]
	if got := f.payments.refs[record.ID]; got != "cs_test" {
		t.Fatalf("expected session reference, got %q", got)
	}
}

func TestPreviewUpgradeTransitions(t *testing.T) {
	cases := []struct {
		name       string
		status     enums.SubscriptionStatus
		cycle      enums.BillingCycle
		target     enums.BillingCycle
		conversion enums.ConversionType
	}{
		{"trial to monthly", enums.SubscriptionStatusTrial, enums.BillingCycleMonthly, enums.BillingCycleMonthly, enums.ConversionTrialToMonthly},
		{"trial to yearly", enums.SubscriptionStatusTrial, enums.BillingCycleMonthly, enums.BillingCycleYearly, enums.ConversionTrialToYearly},
		{"monthly to yearly", enums.SubscriptionStatusActive, enums.BillingCycleMonthly, enums.BillingCycleYearly, enums.ConversionMonthlyToYearly},
		{"monthly to monthly", enums.SubscriptionStatusActive, enums.BillingCycleMonthly, enums.BillingCycleMonthly, enums.ConversionMonthlyToMonthly},
		{"yearly to monthly", enums.SubscriptionStatusActive, enums.BillingCycleYearly, enums.BillingCycleMonthly, enums.ConversionYearlyToMonthly},
		{"yearly to yearly", enums.SubscriptionStatusActive, enums.BillingCycleYearly, enums.BillingCycleYearly, enums.ConversionYearlyToYearly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			account := testAccount(tc.status, tc.cycle)
			f := newFixture(t, account)

			preview, err := f.service.PreviewUpgrade(context.Background(), UpgradeInput{
				AccountID:   account.ID,
				NewPlanSlug: "single-class",
				Cycle:       tc.target,
			})
			if err != nil {
				t.Fatalf("PreviewUpgrade: %v", err)
			}
			if preview.Breakdown.Conversion != tc.conversion {
				t.Fatalf("expected %s, got %s", tc.conversion, preview.Breakdown.Conversion)
			}
		})
	}
}

func TestPreviewUpgradeRejectsOneTimeTarget(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusActive, enums.BillingCycleMonthly)
	f := newFixture(t, account)

	_, err := f.service.PreviewUpgrade(context.Background(), UpgradeInput{
		AccountID:   account.ID,
		NewPlanSlug: "single-class",
		Cycle:       enums.BillingCycleOneTime,
	})
	billingErr := pkgerrors.As(err)
	if billingErr == nil || billingErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCreateUpgradeIdempotencyReplay(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusActive, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.payments.idempotent = succeededPayment(account, enums.BillingCycleYearly, 22333, 0, 10*time.Minute)

	_, err := f.service.CreateUpgrade(context.Background(), UpgradeInput{
		AccountID:      account.ID,
		NewPlanSlug:    "single-class",
		Cycle:          enums.BillingCycleYearly,
		IdempotencyKey: "upgrade-123",
	})
	billingErr := pkgerrors.As(err)
	if billingErr == nil || billingErr.Code() != pkgerrors.CodeIdempotency {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
	if len(f.payments.created) != 0 {
		t.Fatalf("replay must not write a new ledger row")
	}
}

func TestCreateUpgradeChargesProratedDifference(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusActive, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	// 10 of 30 days used on a 2500 cent month: credit floor(20/30*2500) = 1667.
	f.payments.latest = succeededPayment(account, enums.BillingCycleMonthly, 2500, 0, 10*24*time.Hour)

	result, err := f.service.CreateUpgrade(context.Background(), UpgradeInput{
		AccountID:      account.ID,
		NewPlanSlug:    "single-class",
		Cycle:          enums.BillingCycleYearly,
		IdempotencyKey: "upgrade-456",
	})
	if err != nil {
		t.Fatalf("CreateUpgrade: %v", err)
	}
	if result.AmountCents != 22333 {
		t.Fatalf("expected 22333 cents, got %d", result.AmountCents)
	}
	if result.Breakdown.CreditCents != 1667 {
		t.Fatalf("expected 1667 credit, got %d", result.Breakdown.CreditCents)
	}
	if len(f.processor.intents) != 1 || f.processor.intents[0].AmountCents != 22333 {
		t.Fatalf("expected intent for the prorated difference")
	}
	if f.processor.intents[0].Metadata["conversion_type"] != string(enums.ConversionMonthlyToYearly) {
		t.Fatalf("expected conversion metadata on intent")
	}
}

func TestCreateUpgradeNoChargeAppliesImmediately(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusActive, enums.BillingCycleYearly)
	f := newFixture(t, account)
	// 300 of 365 days used on 24000 base: credit 4274 > new monthly 2500.
	f.payments.latest = succeededPayment(account, enums.BillingCycleYearly, 26000, 2000, 300*24*time.Hour)

	result, err := f.service.CreateUpgrade(context.Background(), UpgradeInput{
		AccountID:   account.ID,
		NewPlanSlug: "single-class",
		Cycle:       enums.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("CreateUpgrade: %v", err)
	}
	if !result.NoPaymentRequired || result.AmountCents != 0 {
		t.Fatalf("expected a fully credited upgrade, got %+v", result)
	}
	if result.Breakdown.ExcessCreditCents != 1774 {
		t.Fatalf("expected 1774 excess credit, got %d", result.Breakdown.ExcessCreditCents)
	}
	if len(f.processor.intents) != 0 {
		t.Fatalf("no-charge upgrade must not touch the processor")
	}
	if len(f.payments.transitions) != 1 || f.payments.transitions[0].to != enums.PaymentStatusSucceeded {
		t.Fatalf("expected the row to be confirmed in place")
	}
	if len(f.accounts.credits) != 1 || f.accounts.credits[0] != 1774 {
		t.Fatalf("expected excess credit on the balance, got %v", f.accounts.credits)
	}
	last := f.accounts.updates[len(f.accounts.updates)-1]
	if last["subscription_status"] != enums.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %v", last["subscription_status"])
	}
	if last["subscription_end_date"] != testNow.AddDate(0, 1, 0) {
		t.Fatalf("expected one month window, got %v", last["subscription_end_date"])
	}
}

func TestAmountMismatchCancelsIntent(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.processor.intentAmount = 9999

	_, err := f.service.CreateIntent(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
	})
	billingErr := pkgerrors.As(err)
	if billingErr == nil || billingErr.Code() != pkgerrors.CodeAmountMismatch {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if len(f.processor.cancelledIntents) != 1 {
		t.Fatalf("expected the intent to be cancelled")
	}
	if len(f.payments.transitions) != 1 || f.payments.transitions[0].to != enums.PaymentStatusCancelled {
		t.Fatalf("expected the pending row to be voided")
	}
}

func TestPersistFailureCancelsSubscription(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	f := newFixture(t, account)
	f.processor.subAmount = 2500
	f.tx.err = fmt.Errorf("connection reset")

	_, err := f.service.CreateCheckout(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
	})
	if err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	if len(f.processor.cancelledSubs) != 1 || f.processor.cancelledSubs[0] != "sub_test" {
		t.Fatalf("expected the orphaned subscription to be cancelled, got %v", f.processor.cancelledSubs)
	}
}

func TestCustomerReused(t *testing.T) {
	account := testAccount(enums.SubscriptionStatusTrial, enums.BillingCycleMonthly)
	existing := "cus_existing"
	account.StripeCustomerID = &existing
	f := newFixture(t, account)

	_, err := f.service.CreateIntent(context.Background(), CheckoutInput{
		AccountID: account.ID,
		PlanSlug:  "single-class",
		Cycle:     enums.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if f.processor.customers != 0 {
		t.Fatalf("expected existing customer to be reused")
	}
	if f.processor.intents[0].CustomerID != "cus_existing" {
		t.Fatalf("expected existing customer on intent, got %q", f.processor.intents[0].CustomerID)
	}
}

func TestWithinTolerance(t *testing.T) {
	cases := []struct {
		expected int64
		reported int64
		ok       bool
	}{
		{10000, 10000, true},
		{10000, 10100, true},
		{10000, 10101, false},
		{10000, 9900, true},
		{10000, 9899, false},
		{0, 0, true},
		{0, 1, false},
	}
	for _, tc := range cases {
		if got := withinTolerance(tc.expected, tc.reported); got != tc.ok {
			t.Fatalf("withinTolerance(%d, %d) = %v, want %v", tc.expected, tc.reported, got, tc.ok)
		}
	}
}
