// Package checkout orchestrates purchases and plan conversions: it prices
// the request, runs the policy guards, writes the pending ledger row, and
// only then talks to the payment processor. The webhook reconciler owns
// terminal state; this package never marks a charge succeeded on its own,
// except for conversions that require no payment at all.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/internal/plans"
	"github.com/campuskit-io/campuskit-backend/internal/proration"
	"github.com/campuskit-io/campuskit-backend/internal/quota"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/metrics"
	stripegw "github.com/campuskit-io/campuskit-backend/pkg/stripe"
)

// Catalog is the plan lookup surface the orchestrator needs.
type Catalog interface {
	GetBySlug(ctx context.Context, slug string) (*models.Plan, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	SetStripeProductID(ctx context.Context, id uuid.UUID, productID string) error
}

// Processor is the slice of the payment gateway the orchestrator uses.
type Processor interface {
	CreateCustomer(ctx context.Context, email, accountID string) (string, error)
	CreatePaymentIntent(ctx context.Context, input stripegw.PaymentIntentInput) (*stripegw.PaymentIntentResult, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	CreateSubscription(ctx context.Context, input stripegw.SubscriptionInput) (*stripegw.SubscriptionResult, error)
	CancelSubscription(ctx context.Context, id string) error
	EnsurePrice(ctx context.Context, input stripegw.PriceInput) (*stripegw.PriceResult, error)
	CreateCheckoutSession(ctx context.Context, input stripegw.CheckoutSessionInput) (*stripegw.CheckoutSessionResult, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]stripegw.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups the orchestrator dependencies.
type ServiceParams struct {
	Catalog   Catalog
	Accounts  accounts.Repository
	Payments  payments.Repository
	Processor Processor
	DB        TxRunner
	Logger    *logger.Logger
	Metrics   *metrics.BillingMetrics

	Currency        string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service is the purchase and upgrade orchestrator.
type Service struct {
	catalog   Catalog
	accounts  accounts.Repository
	payments  payments.Repository
	processor Processor
	db        TxRunner
	logger    *logger.Logger
	metrics   *metrics.BillingMetrics

	currency        string
	successURL      string
	cancelURL       string
	portalReturnURL string
	now             func() time.Time
}

// NewService validates dependencies and builds the orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("accounts repository is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository is required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Currency == "" {
		params.Currency = "usd"
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		catalog:         params.Catalog,
		accounts:        params.Accounts,
		payments:        params.Payments,
		processor:       params.Processor,
		db:              params.DB,
		logger:          params.Logger,
		metrics:         params.Metrics,
		currency:        params.Currency,
		successURL:      params.SuccessURL,
		cancelURL:       params.CancelURL,
		portalReturnURL: params.PortalReturnURL,
		now:             params.Now,
	}, nil
}

// pricing is the computed cost of a purchase in minor units.
type pricing struct {
	base        int64
	teacherUnit int64
	studentUnit int64
	addon       int64
	total       int64
}

func computePricing(plan *models.Plan, cycle enums.BillingCycle, addons AddonSelection) (pricing, error) {
	if err := quota.ValidateSelection(addons.TeacherSeats, addons.StudentSeats); err != nil {
		return pricing{}, err
	}
	base, err := plans.BasePrice(plan, cycle)
	if err != nil {
		return pricing{}, err
	}
	teacherUnit, err := plans.AddonUnitPrice(plan, cycle, enums.AddonKindTeacherSeat)
	if err != nil {
		return pricing{}, err
	}
	studentUnit, err := plans.AddonUnitPrice(plan, cycle, enums.AddonKindStudentSeat)
	if err != nil {
		return pricing{}, err
	}
	addon := int64(addons.TeacherSeats)*teacherUnit + int64(addons.StudentSeats)*studentUnit
	return pricing{
		base:        base,
		teacherUnit: teacherUnit,
		studentUnit: studentUnit,
		addon:       addon,
		total:       base + addon,
	}, nil
}

// withinTolerance allows a 1 percent drift between the computed charge and
// the processor's reported amount. A zero expectation admits only zero.
func withinTolerance(expected, reported int64) bool {
	if expected == reported {
		return true
	}
	if expected == 0 {
		return false
	}
	diff := expected - reported
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= expected
}

func wrapProcessorErr(err error, msg string) error {
	if stripegw.IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeProcessor, err, msg)
}

// CreateCheckout starts a first purchase. One-time plans get a hosted
// checkout session; recurring plans get an incomplete subscription whose
// first invoice the client confirms.
func (s *Service) CreateCheckout(ctx context.Context, input CheckoutInput) (*Result, error) {
	if !input.Cycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown billing cycle %q", input.Cycle))
	}
	account, err := s.loadAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	plan, err := s.loadPurchasablePlan(ctx, input.PlanSlug)
	if err != nil {
		return nil, err
	}
	if err := s.guardNoActiveSubscription(account); err != nil {
		return nil, err
	}
	if err := s.guardPurchaseWindows(ctx, account, input.Cycle); err != nil {
		return nil, err
	}
	price, err := computePricing(plan, input.Cycle, input.Addons)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	mode := enums.PaymentModeSubscription
	if input.Cycle == enums.BillingCycleOneTime {
		mode = enums.PaymentModeOneTime
	}
	record, err := s.createPending(ctx, account, plan, input.Cycle, mode, price.total, price, input.Addons, nil)
	if err != nil {
		return nil, err
	}

	if input.Cycle == enums.BillingCycleOneTime {
		return s.openHostedSession(ctx, account, plan, record, price, input.Addons, customerID)
	}
	return s.openSubscription(ctx, account, plan, record, price, input, customerID)
}

// CreateIntent starts a purchase as a direct payment intent, returning a
// client secret instead of a hosted page. Recurring cycles are charged
// up front; the reconciler extends the window from the ledger row's cycle.
func (s *Service) CreateIntent(ctx context.Context, input CheckoutInput) (*Result, error) {
	if !input.Cycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown billing cycle %q", input.Cycle))
	}
	account, err := s.loadAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	plan, err := s.loadPurchasablePlan(ctx, input.PlanSlug)
	if err != nil {
		return nil, err
	}
	if err := s.guardNoActiveSubscription(account); err != nil {
		return nil, err
	}
	if err := s.guardPurchaseWindows(ctx, account, input.Cycle); err != nil {
		return nil, err
	}
	price, err := computePricing(plan, input.Cycle, input.Addons)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	record, err := s.createPending(ctx, account, plan, input.Cycle, enums.PaymentModeOneTime, price.total, price, input.Addons, nil)
	if err != nil {
		return nil, err
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, stripegw.PaymentIntentInput{
		AmountCents:     price.total,
		Currency:        s.currency,
		CustomerID:      customerID,
		PaymentMethodID: input.PaymentMethodID,
		Metadata: map[string]string{
			"payment_id": record.ID.String(),
			"account_id": account.ID.String(),
		},
	})
	if err != nil {
		s.voidPending(ctx, record.ID, "payment intent creation failed")
		return nil, wrapProcessorErr(err, "creating payment intent")
	}

	if err := s.verifyAmount(ctx, record, price.total, intent.AmountCents, func() {
		s.abandonIntent(ctx, intent.ID)
	}); err != nil {
		s.voidPending(ctx, record.ID, "amount mismatch")
		return nil, err
	}

	if err := s.payments.SetStripeReference(ctx, record.ID, intent.ID, customerID); err != nil {
		s.abandonIntent(ctx, intent.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving payment reference")
	}

	return &Result{
		PaymentID:    record.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  price.total,
		Currency:     s.currency,
		Mode:         enums.PaymentModeOneTime,
		Breakdown:    buildBreakdown("", price, proration.Quote{ChargeCents: price.total}, input.Addons),
	}, nil
}

// PreviewUpgrade quotes a conversion without side effects.
func (s *Service) PreviewUpgrade(ctx context.Context, input UpgradeInput) (*Preview, error) {
	account, err := s.loadAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	plan, err := s.loadPurchasablePlan(ctx, input.NewPlanSlug)
	if err != nil {
		return nil, err
	}
	entry, price, quote, err := s.upgradeQuote(ctx, account, plan, input.Cycle, input.Addons)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Breakdown:         buildBreakdown(entry.conversion, price, quote, input.Addons),
		NoPaymentRequired: quote.NoPaymentRequired,
	}, nil
}

// CreateUpgrade executes a conversion. The prorated difference is charged
// through a one-time intent; the reconciler applies plan and window side
// effects when the charge confirms. A fully credited conversion applies
// immediately since no processor event will ever arrive for it.
func (s *Service) CreateUpgrade(ctx context.Context, input UpgradeInput) (*Result, error) {
	account, err := s.loadAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	plan, err := s.loadPurchasablePlan(ctx, input.NewPlanSlug)
	if err != nil {
		return nil, err
	}
	if err := s.checkIdempotencyKey(ctx, account, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.guardPurchaseWindows(ctx, account, input.Cycle); err != nil {
		return nil, err
	}
	entry, price, quote, err := s.upgradeQuote(ctx, account, plan, input.Cycle, input.Addons)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	meta := &models.PaymentMetadata{
		ConversionType:    entry.conversion,
		IdempotencyKey:    input.IdempotencyKey,
		CreditCents:       quote.CreditCents,
		ExcessCreditCents: quote.ExcessCreditCents,
	}

	if quote.NoPaymentRequired {
		return s.applyNoChargeUpgrade(ctx, account, plan, input, entry, price, quote, meta)
	}

	record, err := s.createPending(ctx, account, plan, input.Cycle, enums.PaymentModeOneTime, quote.ChargeCents, price, input.Addons, meta)
	if err != nil {
		return nil, err
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, stripegw.PaymentIntentInput{
		AmountCents: quote.ChargeCents,
		Currency:    s.currency,
		CustomerID:  customerID,
		Metadata: map[string]string{
			"payment_id":      record.ID.String(),
			"account_id":      account.ID.String(),
			"conversion_type": string(entry.conversion),
		},
	})
	if err != nil {
		s.voidPending(ctx, record.ID, "payment intent creation failed")
		return nil, wrapProcessorErr(err, "creating upgrade payment intent")
	}

	if err := s.verifyAmount(ctx, record, quote.ChargeCents, intent.AmountCents, func() {
		s.abandonIntent(ctx, intent.ID)
	}); err != nil {
		s.voidPending(ctx, record.ID, "amount mismatch")
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.payments.WithTx(tx).SetStripeReference(ctx, record.ID, intent.ID, customerID); err != nil {
			return err
		}
		return s.accounts.WithTx(tx).UpdateFields(ctx, account.ID, map[string]any{
			"subscription_status": enums.SubscriptionStatusPending,
		})
	})
	if err != nil {
		s.abandonIntent(ctx, intent.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving upgrade references")
	}

	return &Result{
		PaymentID:    record.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  quote.ChargeCents,
		Currency:     s.currency,
		Mode:         enums.PaymentModeOneTime,
		Breakdown:    buildBreakdown(entry.conversion, price, quote, input.Addons),
	}, nil
}

// PortalSession opens a billing-portal session for self-service.
func (s *Service) PortalSession(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "account has no billing profile yet")
	}
	url, err := s.processor.CreatePortalSession(ctx, *account.StripeCustomerID, s.portalReturnURL)
	if err != nil {
		return "", wrapProcessorErr(err, "creating portal session")
	}
	return url, nil
}

// ListPaymentMethods returns the account's saved cards, empty when no
// billing profile exists yet.
func (s *Service) ListPaymentMethods(ctx context.Context, accountID uuid.UUID) ([]stripegw.PaymentMethod, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID == "" {
		return []stripegw.PaymentMethod{}, nil
	}
	methods, err := s.processor.ListPaymentMethods(ctx, *account.StripeCustomerID)
	if err != nil {
		return nil, wrapProcessorErr(err, "listing payment methods")
	}
	return methods, nil
}

// AttachPaymentMethod stores a card against the account's customer.
func (s *Service) AttachPaymentMethod(ctx context.Context, accountID uuid.UUID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment method id is required")
	}
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return err
	}
	if err := s.processor.AttachPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return wrapProcessorErr(err, "attaching payment method")
	}
	return nil
}

func (s *Service) loadAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

func (s *Service) loadPurchasablePlan(ctx context.Context, slug string) (*models.Plan, error) {
	plan, err := s.catalog.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan %q is not purchasable", slug))
	}
	return plan, nil
}

func (s *Service) ensureCustomer(ctx context.Context, account *models.Account) (string, error) {
	if account.StripeCustomerID != nil && *account.StripeCustomerID != "" {
		return *account.StripeCustomerID, nil
	}
	customerID, err := s.processor.CreateCustomer(ctx, account.OwnerEmail, account.ID.String())
	if err != nil {
		return "", wrapProcessorErr(err, "creating customer")
	}
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]any{"stripe_customer_id": customerID}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving customer id")
	}
	account.StripeCustomerID = &customerID
	return customerID, nil
}

// createPending writes the ledger row before any processor call so a crash
// mid-request leaves an orphaned pending row, never an untracked charge.
func (s *Service) createPending(ctx context.Context, account *models.Account, plan *models.Plan, cycle enums.BillingCycle, mode enums.PaymentMode, amount int64, price pricing, addons AddonSelection, meta *models.PaymentMetadata) (*models.PaymentRecord, error) {
	record := &models.PaymentRecord{
		ID:                 uuid.New(),
		AccountID:          account.ID,
		PlanID:             plan.ID,
		UserID:             account.OwnerUserID,
		Mode:               mode,
		Status:             enums.PaymentStatusPending,
		AmountCents:        amount,
		Currency:           s.currency,
		TeacherSeats:       addons.TeacherSeats,
		StudentSeats:       addons.StudentSeats,
		AddonCostCents:     price.addon,
		BasePlanPriceCents: price.base,
		TotalCostCents:     price.total,
		BillingCycle:       cycle,
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payment metadata")
		}
		record.Metadata = raw
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording pending payment")
	}
	return record, nil
}

func (s *Service) openHostedSession(ctx context.Context, account *models.Account, plan *models.Plan, record *models.PaymentRecord, price pricing, addons AddonSelection, customerID string) (*Result, error) {
	session, err := s.processor.CreateCheckoutSession(ctx, stripegw.CheckoutSessionInput{
		CustomerID:  customerID,
		Mode:        "payment",
		Name:        plan.Name,
		AmountCents: price.total,
		Currency:    s.currency,
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
		Metadata: map[string]string{
			"payment_id": record.ID.String(),
			"account_id": account.ID.String(),
		},
	})
	if err != nil {
		s.voidPending(ctx, record.ID, "checkout session creation failed")
		return nil, wrapProcessorErr(err, "creating checkout session")
	}
	if err := s.payments.SetStripeReference(ctx, record.ID, session.ID, customerID); err != nil {
		// The session expires on its own; the row stays pending until then.
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving session reference")
	}
	return &Result{
		PaymentID:   record.ID,
		CheckoutURL: session.URL,
		AmountCents: price.total,
		Currency:    s.currency,
		Mode:        enums.PaymentModeOneTime,
		Breakdown:   buildBreakdown("", price, proration.Quote{ChargeCents: price.total}, addons),
	}, nil
}

func (s *Service) openSubscription(ctx context.Context, account *models.Account, plan *models.Plan, record *models.PaymentRecord, price pricing, input CheckoutInput, customerID string) (*Result, error) {
	items, err := s.subscriptionItems(ctx, plan, input.Cycle, price, input.Addons)
	if err != nil {
		s.voidPending(ctx, record.ID, "price resolution failed")
		return nil, err
	}

	sub, err := s.processor.CreateSubscription(ctx, stripegw.SubscriptionInput{
		CustomerID: customerID,
		Items:      items,
		Metadata: map[string]string{
			"payment_id": record.ID.String(),
			"account_id": account.ID.String(),
		},
	})
	if err != nil {
		s.voidPending(ctx, record.ID, "subscription creation failed")
		return nil, wrapProcessorErr(err, "creating subscription")
	}

	if err := s.verifyAmount(ctx, record, price.total, sub.AmountCents, func() {
		s.abandonSubscription(ctx, sub.ID)
	}); err != nil {
		s.voidPending(ctx, record.ID, "amount mismatch")
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.payments.WithTx(tx).SetStripeReference(ctx, record.ID, sub.ID, customerID); err != nil {
			return err
		}
		return s.accounts.WithTx(tx).UpdateFields(ctx, account.ID, map[string]any{
			"plan_id":                plan.ID,
			"billing_cycle":          input.Cycle,
			"subscription_status":    enums.SubscriptionStatusPending,
			"stripe_subscription_id": sub.ID,
		})
	})
	if err != nil {
		s.abandonSubscription(ctx, sub.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving subscription reference")
	}

	return &Result{
		PaymentID:    record.ID,
		ClientSecret: sub.ClientSecret,
		AmountCents:  price.total,
		Currency:     s.currency,
		Mode:         enums.PaymentModeSubscription,
		Breakdown:    buildBreakdown("", price, proration.Quote{ChargeCents: price.total}, input.Addons),
	}, nil
}

// subscriptionItems resolves processor prices for the base plan and any
// seat add-ons, creating them on first use.
func (s *Service) subscriptionItems(ctx context.Context, plan *models.Plan, cycle enums.BillingCycle, price pricing, addons AddonSelection) ([]stripegw.SubscriptionItem, error) {
	interval := "month"
	if cycle == enums.BillingCycleYearly {
		interval = "year"
	}
	productID := ""
	if plan.StripeProductID != nil {
		productID = *plan.StripeProductID
	}

	base, err := s.processor.EnsurePrice(ctx, stripegw.PriceInput{
		CacheKey:        fmt.Sprintf("%s:%s:base:%d", plan.Slug, cycle, price.base),
		ProductID:       productID,
		ProductName:     plan.Name,
		UnitAmountCents: price.base,
		Currency:        s.currency,
		Interval:        interval,
	})
	if err != nil {
		return nil, wrapProcessorErr(err, "resolving base price")
	}
	if productID == "" && base.ProductID != "" {
		if err := s.catalog.SetStripeProductID(ctx, plan.ID, base.ProductID); err != nil {
			s.logger.Warn(ctx, "failed to save plan product id: "+err.Error())
		}
		productID = base.ProductID
	}

	items := []stripegw.SubscriptionItem{{PriceID: base.PriceID, Quantity: 1}}

	seatLines := []struct {
		seats int
		unit  int64
		kind  enums.AddonKind
		label string
	}{
		{addons.TeacherSeats, price.teacherUnit, enums.AddonKindTeacherSeat, "teacher seat"},
		{addons.StudentSeats, price.studentUnit, enums.AddonKindStudentSeat, "student seat"},
	}
	for _, line := range seatLines {
		if line.seats <= 0 || line.unit <= 0 {
			continue
		}
		seatPrice, err := s.processor.EnsurePrice(ctx, stripegw.PriceInput{
			CacheKey:        fmt.Sprintf("%s:%s:%s:%d", plan.Slug, cycle, line.kind, line.unit),
			ProductID:       productID,
			ProductName:     fmt.Sprintf("%s %s", plan.Name, line.label),
			UnitAmountCents: line.unit,
			Currency:        s.currency,
			Interval:        interval,
		})
		if err != nil {
			return nil, wrapProcessorErr(err, "resolving addon price")
		}
		items = append(items, stripegw.SubscriptionItem{PriceID: seatPrice.PriceID, Quantity: int64(line.seats)})
	}
	return items, nil
}

func (s *Service) upgradeQuote(ctx context.Context, account *models.Account, plan *models.Plan, cycle enums.BillingCycle, addons AddonSelection) (transition, pricing, proration.Quote, error) {
	entry, err := resolveTransition(account, cycle)
	if err != nil {
		return transition{}, pricing{}, proration.Quote{}, err
	}
	price, err := computePricing(plan, cycle, addons)
	if err != nil {
		return transition{}, pricing{}, proration.Quote{}, err
	}

	var prior *proration.PriorPayment
	if entry.prorate {
		latest, err := s.payments.FindLatestSucceeded(ctx, account.ID)
		if err != nil {
			return transition{}, pricing{}, proration.Quote{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase history")
		}
		if latest != nil {
			prior = &proration.PriorPayment{
				TotalPaidCents: latest.AmountCents,
				AddonCostCents: latest.AddonCostCents,
				Cycle:          latest.BillingCycle,
				PurchasedAt:    latest.CreatedAt,
			}
		}
	}

	quote := proration.Convert(prior, !entry.prorate, price.base, price.addon, s.now())
	return entry, price, quote, nil
}

// applyNoChargeUpgrade confirms a fully credited conversion in one
// transaction. Any leftover credit lands on the account balance.
func (s *Service) applyNoChargeUpgrade(ctx context.Context, account *models.Account, plan *models.Plan, input UpgradeInput, entry transition, price pricing, quote proration.Quote, meta *models.PaymentMetadata) (*Result, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payment metadata")
	}

	now := s.now()
	record := &models.PaymentRecord{
		ID:                 uuid.New(),
		AccountID:          account.ID,
		PlanID:             plan.ID,
		UserID:             account.OwnerUserID,
		Mode:               enums.PaymentModeOneTime,
		Status:             enums.PaymentStatusPending,
		AmountCents:        0,
		Currency:           s.currency,
		TeacherSeats:       input.Addons.TeacherSeats,
		StudentSeats:       input.Addons.StudentSeats,
		AddonCostCents:     price.addon,
		BasePlanPriceCents: price.base,
		TotalCostCents:     price.total,
		BillingCycle:       input.Cycle,
		Metadata:           raw,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsTx := s.payments.WithTx(tx)
		accountsTx := s.accounts.WithTx(tx)

		if err := paymentsTx.Create(ctx, record); err != nil {
			return err
		}
		if _, err := paymentsTx.TransitionStatus(ctx, record.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusSucceeded, nil); err != nil {
			return err
		}

		updates := map[string]any{
			"plan_id":                 plan.ID,
			"billing_cycle":           input.Cycle,
			"subscription_status":     enums.SubscriptionStatusActive,
			"subscription_start_date": now,
			"subscription_end_date":   proration.WindowEnd(now, input.Cycle),
			"has_used_trial":          true,
			"extra_teacher_seats":     input.Addons.TeacherSeats,
			"extra_student_seats":     input.Addons.StudentSeats,
		}
		// A cycle switch abandons the superseded external subscription ref.
		if entry.conversion == enums.ConversionMonthlyToYearly {
			updates["stripe_subscription_id"] = nil
		}
		if err := accountsTx.UpdateFields(ctx, account.ID, updates); err != nil {
			return err
		}
		if quote.ExcessCreditCents > 0 {
			return accountsTx.AddCreditBalance(ctx, account.ID, quote.ExcessCreditCents)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "applying no-charge upgrade")
	}

	s.metrics.IncPaymentOutcome(string(enums.PaymentStatusSucceeded))
	return &Result{
		PaymentID:         record.ID,
		AmountCents:       0,
		Currency:          s.currency,
		Mode:              enums.PaymentModeOneTime,
		NoPaymentRequired: true,
		Breakdown:         buildBreakdown(entry.conversion, price, quote, input.Addons),
	}, nil
}

// verifyAmount fails closed when the processor's reported amount drifts
// beyond tolerance; the external artifact is cancelled best-effort.
func (s *Service) verifyAmount(ctx context.Context, record *models.PaymentRecord, expected, reported int64, cancel func()) error {
	if withinTolerance(expected, reported) {
		return nil
	}
	s.metrics.IncAmountMismatch()
	logCtx := s.logger.WithFields(ctx, map[string]any{
		"payment_id":     record.ID.String(),
		"expected_cents": expected,
		"reported_cents": reported,
	})
	s.logger.Error(logCtx, "computed charge disagrees with processor response", nil)
	if cancel != nil {
		cancel()
	}
	return pkgerrors.New(pkgerrors.CodeAmountMismatch, "charge amount disagrees with processor response").
		WithDetails(map[string]any{
			"expected_cents": expected,
			"reported_cents": reported,
		})
}

// voidPending parks a pending row whose external artifact never came to be.
func (s *Service) voidPending(ctx context.Context, id uuid.UUID, reason string) {
	_, err := s.payments.TransitionStatus(ctx, id,
		[]enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusCancelled,
		map[string]any{"failure_reason": reason})
	if err != nil {
		s.logger.Warn(s.logger.WithField(ctx, "payment_id", id.String()), "failed to void pending payment: "+err.Error())
	}
}

func (s *Service) abandonIntent(ctx context.Context, id string) {
	if err := s.processor.CancelPaymentIntent(ctx, id); err != nil {
		s.logger.Warn(s.logger.WithField(ctx, "intent_id", id), "failed to cancel orphaned payment intent: "+err.Error())
	}
}

func (s *Service) abandonSubscription(ctx context.Context, id string) {
	if err := s.processor.CancelSubscription(ctx, id); err != nil {
		s.logger.Warn(s.logger.WithField(ctx, "subscription_id", id), "failed to cancel orphaned subscription: "+err.Error())
	}
}

func buildBreakdown(conversion enums.ConversionType, price pricing, quote proration.Quote, addons AddonSelection) Breakdown {
	return Breakdown{
		BaseCents:         price.base,
		AddonCents:        price.addon,
		TotalCents:        price.total,
		CreditCents:       quote.CreditCents,
		ExcessCreditCents: quote.ExcessCreditCents,
		ChargeCents:       quote.ChargeCents,
		TeacherSeats:      addons.TeacherSeats,
		StudentSeats:      addons.StudentSeats,
		Conversion:        conversion,
	}
}
