// Package stripewebhook reconciles processor events into the payment
// ledger and account state. The webhook is the source of truth for
// terminal payment status: checkout only ever writes pending rows, and
// every transition here is status-gated so redelivered events are no-ops.
package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/internal/proration"
	"github.com/campuskit-io/campuskit-backend/internal/users"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

type addonApplier interface {
	ApplyAddons(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, teacherSeats, studentSeats int) error
}

type notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationType, title, message, email string) error
}

type processor interface {
	CancelSubscription(ctx context.Context, id string) error
}

// ServiceParams groups the reconciler dependencies.
type ServiceParams struct {
	Payments          payments.Repository
	Accounts          accounts.Repository
	Users             users.Repository
	Catalog           catalog
	Quota             addonApplier
	Notifications     notifier
	Processor         processor
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service applies processor events to local state.
type Service struct {
	payments      payments.Repository
	accounts      accounts.Repository
	users         users.Repository
	catalog       catalog
	quota         addonApplier
	notifications notifier
	processor     processor
	txRunner      txRunner
	logger        *logger.Logger
	metrics       *metrics.BillingMetrics
	now           func() time.Time
}

// NewService validates dependencies and builds the reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	if params.Quota == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "quota service required")
	}
	if params.Notifications == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification service required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		payments:      params.Payments,
		accounts:      params.Accounts,
		users:         params.Users,
		catalog:       params.Catalog,
		quota:         params.Quota,
		notifications: params.Notifications,
		processor:     params.Processor,
		txRunner:      params.TransactionRunner,
		logger:        params.Logger,
		metrics:       params.Metrics,
		now:           params.Now,
	}, nil
}

// HandleEvent routes a verified event. Unknown event types are acknowledged
// so the processor stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	err := s.routeEvent(ctx, event)
	switch {
	case err != nil:
		s.metrics.IncWebhookEvent(string(event.Type), "error")
	default:
		s.metrics.IncWebhookEvent(string(event.Type), "ok")
	}
	return err
}

func (s *Service) routeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.reconcileSuccess(ctx, intent.ID)

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return s.reconcileFailure(ctx, intent.ID, reason)

	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		return s.reconcileSuccess(ctx, session.ID)

	case stripe.EventTypeInvoicePaid:
		subscriptionID := subscriptionRef(event)
		if subscriptionID == "" {
			s.logger.Info(ctx, "invoice event without subscription reference skipped")
			return nil
		}
		return s.reconcileSuccess(ctx, subscriptionID)

	case stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := subscriptionRef(event)
		if subscriptionID == "" {
			s.logger.Info(ctx, "invoice event without subscription reference skipped")
			return nil
		}
		return s.reconcileFailure(ctx, subscriptionID, "invoice payment failed")

	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.syncSubscriptionStatus(ctx, event, false)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.syncSubscriptionStatus(ctx, event, true)

	case stripe.EventTypeChargeRefunded:
		reference := event.GetObjectValue("payment_intent")
		if reference == "" {
			return nil
		}
		return s.reconcileRefund(ctx, reference)

	default:
		s.logger.Info(ctx, fmt.Sprintf("unhandled stripe event type %s acknowledged", event.Type))
		return nil
	}
}

// subscriptionRef extracts the subscription id from an invoice event,
// trying both the flat and the parent-nested payload shapes.
func subscriptionRef(event *stripe.Event) string {
	if ref := event.GetObjectValue("subscription"); ref != "" {
		return ref
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}

// reconcileSuccess confirms the ledger row and applies the purchase to the
// account: plan, cycle, window, seat add-ons, owner provisioning, and any
// conversion leftovers. All of it lands in one transaction keyed on the
// status gate, so a second delivery finds the gate closed and does nothing.
func (s *Service) reconcileSuccess(ctx context.Context, reference string) error {
	record, err := s.payments.FindByStripeReference(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if record == nil {
		s.logger.Warn(s.logger.WithPaymentRef(ctx, reference), "success event for unknown payment reference skipped")
		return nil
	}

	meta := decodeMetadata(record)
	now := s.now()
	var (
		applied      bool
		ownerEmail   string
		supersededID string
	)

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsTx := s.payments.WithTx(tx)
		accountsTx := s.accounts.WithTx(tx)

		var txErr error
		applied, txErr = paymentsTx.TransitionStatus(ctx, record.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusTrialing},
			enums.PaymentStatusSucceeded, nil)
		if txErr != nil {
			return txErr
		}
		if !applied {
			return nil
		}

		account, txErr := accountsTx.FindByID(ctx, record.AccountID)
		if txErr != nil {
			return txErr
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found for payment")
		}
		ownerEmail = account.OwnerEmail

		updates := map[string]any{
			"plan_id":                 record.PlanID,
			"billing_cycle":           record.BillingCycle,
			"subscription_status":     enums.SubscriptionStatusActive,
			"subscription_start_date": now,
			"subscription_end_date":   proration.WindowEnd(now, record.BillingCycle),
			"has_used_trial":          true,
		}

		// A cycle conversion paid through an intent supersedes the old
		// external subscription; it gets cancelled after commit.
		if meta.ConversionType == enums.ConversionMonthlyToYearly || meta.ConversionType == enums.ConversionYearlyToMonthly {
			if account.StripeSubscriptionID != nil && *account.StripeSubscriptionID != reference {
				supersededID = *account.StripeSubscriptionID
				updates["stripe_subscription_id"] = nil
			}
		}

		if account.OwnerUserID == nil && account.OwnerEmail != "" {
			owner, txErr := s.provisionOwner(ctx, tx, account, record.PlanID)
			if txErr != nil {
				return txErr
			}
			updates["owner_user_id"] = owner.ID
		}

		if txErr := accountsTx.UpdateFields(ctx, account.ID, updates); txErr != nil {
			return txErr
		}
		if txErr := s.quota.ApplyAddons(ctx, tx, account.ID, record.TeacherSeats, record.StudentSeats); txErr != nil {
			return txErr
		}
		if meta.ExcessCreditCents > 0 {
			return accountsTx.AddCreditBalance(ctx, account.ID, meta.ExcessCreditCents)
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "applying payment success")
	}
	if !applied {
		s.logger.Info(s.logger.WithPaymentRef(ctx, reference), "payment already reconciled, delivery ignored")
		return nil
	}

	if supersededID != "" {
		if err := s.processor.CancelSubscription(ctx, supersededID); err != nil {
			s.logger.Warn(s.logger.WithField(ctx, "subscription_id", supersededID), "failed to cancel superseded subscription: "+err.Error())
		}
	}

	s.metrics.IncPaymentOutcome(string(enums.PaymentStatusSucceeded))
	s.notifyOnce(ctx, record.ID, record.AccountID, enums.NotificationPaymentSucceeded,
		"Payment received",
		fmt.Sprintf("Your payment of %d.%02d USD was confirmed.", record.AmountCents/100, record.AmountCents%100),
		ownerEmail)
	return nil
}

func (s *Service) reconcileFailure(ctx context.Context, reference, reason string) error {
	record, err := s.payments.FindByStripeReference(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if record == nil {
		s.logger.Warn(s.logger.WithPaymentRef(ctx, reference), "failure event for unknown payment reference skipped")
		return nil
	}

	var (
		applied    bool
		ownerEmail string
	)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsTx := s.payments.WithTx(tx)
		accountsTx := s.accounts.WithTx(tx)

		var txErr error
		applied, txErr = paymentsTx.TransitionStatus(ctx, record.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusTrialing},
			enums.PaymentStatusFailed, map[string]any{"failure_reason": reason})
		if txErr != nil {
			return txErr
		}
		if !applied {
			return nil
		}

		account, txErr := accountsTx.FindByID(ctx, record.AccountID)
		if txErr != nil {
			return txErr
		}
		if account == nil {
			return nil
		}
		ownerEmail = account.OwnerEmail

		// A failed renewal leaves the subscription past due; a failed first
		// purchase leaves the account where it was.
		if record.Mode == enums.PaymentModeSubscription && account.SubscriptionStatus == enums.SubscriptionStatusActive {
			return accountsTx.UpdateFields(ctx, account.ID, map[string]any{
				"subscription_status": enums.SubscriptionStatusPastDue,
			})
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "applying payment failure")
	}
	if !applied {
		s.logger.Info(s.logger.WithPaymentRef(ctx, reference), "payment already reconciled, delivery ignored")
		return nil
	}

	s.metrics.IncPaymentOutcome(string(enums.PaymentStatusFailed))
	s.notifyOnce(ctx, record.ID, record.AccountID, enums.NotificationPaymentFailed,
		"Payment failed",
		fmt.Sprintf("Your payment could not be processed: %s", reason),
		ownerEmail)
	return nil
}

func (s *Service) reconcileRefund(ctx context.Context, reference string) error {
	record, err := s.payments.FindByStripeReference(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if record == nil {
		return nil
	}
	applied, err := s.payments.TransitionStatus(ctx, record.ID,
		[]enums.PaymentStatus{enums.PaymentStatusSucceeded},
		enums.PaymentStatusRefunded, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payment refunded")
	}
	if applied {
		s.metrics.IncPaymentOutcome(string(enums.PaymentStatusRefunded))
	}
	return nil
}

func (s *Service) syncSubscriptionStatus(ctx context.Context, event *stripe.Event, deleted bool) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}

	account, err := s.accounts.FindByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up account")
	}
	if account == nil {
		s.logger.Warn(s.logger.WithField(ctx, "customer_id", sub.Customer.ID), "subscription event for unknown customer skipped")
		return nil
	}
	// Ignore events for a subscription the account no longer tracks.
	if account.StripeSubscriptionID != nil && *account.StripeSubscriptionID != sub.ID {
		return nil
	}

	updates := map[string]any{}
	if deleted {
		updates["subscription_status"] = enums.SubscriptionStatusCancelled
		updates["stripe_subscription_id"] = nil
	} else if status, ok := mapSubscriptionStatus(sub.Status); ok {
		updates["subscription_status"] = status
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.accounts.UpdateFields(ctx, account.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating subscription status")
	}
	return nil
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, bool) {
	switch status {
	case stripe.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive, true
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCancelled, true
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusPending, true
	default:
		return "", false
	}
}

// provisionOwner creates the tenant's first user. Single-seat plans get a
// teacher; multi-seat plans get an admin who invites the rest.
func (s *Service) provisionOwner(ctx context.Context, tx *gorm.DB, account *models.Account, planID uuid.UUID) (*models.User, error) {
	plan, err := s.catalog.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	role := enums.UserRoleTeacher
	if plan.MultiSeat() {
		role = enums.UserRoleAdmin
	}
	owner := &models.User{
		ID:        uuid.New(),
		AccountID: account.ID,
		Email:     account.OwnerEmail,
		Role:      role,
		IsActive:  true,
	}
	if err := s.users.WithTx(tx).Create(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// notifyOnce sends the outcome notification at most once per ledger row,
// gated by the email_sent_at stamp.
func (s *Service) notifyOnce(ctx context.Context, paymentID, accountID uuid.UUID, kind enums.NotificationType, title, message, email string) {
	first, err := s.payments.MarkEmailSent(ctx, paymentID, s.now())
	if err != nil {
		s.logger.Warn(s.logger.WithField(ctx, "payment_id", paymentID.String()), "failed to stamp notification: "+err.Error())
		return
	}
	if !first {
		return
	}
	if err := s.notifications.Notify(ctx, accountID, kind, title, message, email); err != nil {
		s.logger.Error(ctx, "recording payment notification", err)
	}
}

func decodeMetadata(record *models.PaymentRecord) models.PaymentMetadata {
	var meta models.PaymentMetadata
	if len(record.Metadata) > 0 {
		_ = json.Unmarshal(record.Metadata, &meta)
	}
	return meta
}
