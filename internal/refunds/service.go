// Package refunds implements the refund request workflow: a tenant asks
// within the allowed window, an operator approves or rejects, and an
// approval pushes the refund through the payment processor.
package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/pkg/db"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/metrics"
)

// Requests made after this much time has passed since the payment are
// refused outright.
const refundWindow = 30 * 24 * time.Hour

type processor interface {
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (string, error)
}

type notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationType, title, message, email string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RequestInput describes a tenant-initiated refund request.
type RequestInput struct {
	AccountID uuid.UUID
	UserID    uuid.UUID
	PaymentID uuid.UUID
	Reason    string
}

// ServiceParams groups the refund workflow dependencies.
type ServiceParams struct {
	Repo              Repository
	Payments          payments.Repository
	Accounts          accounts.Repository
	Processor         processor
	Notifications     notifier
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service runs the refund request and approval workflow.
type Service struct {
	repo          Repository
	payments      payments.Repository
	accounts      accounts.Repository
	processor     processor
	notifications notifier
	txRunner      txRunner
	logger        *logger.Logger
	metrics       *metrics.BillingMetrics
	now           func() time.Time
}

// NewService validates dependencies and builds the refund service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund repo required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor required")
	}
	if params.Notifications == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification service required")
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
		repo:          params.Repo,
		payments:      params.Payments,
		accounts:      params.Accounts,
		processor:     params.Processor,
		notifications: params.Notifications,
		txRunner:      params.TransactionRunner,
		logger:        params.Logger,
		metrics:       params.Metrics,
		now:           params.Now,
	}, nil
}

// Request opens a refund request for a succeeded payment inside the
// 30-day window. One request per payment; the unique index backstops the
// pre-check under concurrency.
func (s *Service) Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a refund reason is required")
	}

	payment, err := s.payments.FindByID(ctx, input.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if payment == nil || payment.AccountID != input.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("only succeeded payments can be refunded, this one is %s", payment.Status))
	}

	age := s.now().Sub(payment.CreatedAt)
	if age > refundWindow {
		return nil, pkgerrors.New(pkgerrors.CodePolicy, "the refund window for this payment has elapsed").
			WithDetails(map[string]any{
				"window_days":  int(refundWindow.Hours() / 24),
				"payment_days": int(age.Hours() / 24),
			})
	}

	existing, err := s.repo.FindByPaymentID(ctx, input.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking refund history")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a refund was already requested for this payment").
			WithDetails(map[string]any{"refund_request_id": existing.ID.String()})
	}

	request := &models.RefundRequest{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		UserID:      input.UserID,
		AccountID:   input.AccountID,
		AmountCents: payment.AmountCents,
		Status:      enums.RefundStatusPending,
		Reason:      input.Reason,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a refund was already requested for this payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording refund request")
	}

	s.notifyOwner(ctx, input.AccountID, enums.NotificationRefundRequested,
		"Refund requested",
		fmt.Sprintf("A refund of %s was requested and is awaiting review.", formatCents(request.AmountCents)))
	return request, nil
}

// Approve pushes a pending request through the processor and closes it.
// The ledger row moves to refunded in the same transaction as the request.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.FindByID(ctx, request.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if payment == nil || payment.StripeReference == nil || *payment.StripeReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no processor reference to refund against")
	}

	refundID, err := s.processor.CreateRefund(ctx, *payment.StripeReference, request.AmountCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProcessor, err, "creating refund")
	}

	now := s.now()
	request.Status = enums.RefundStatusCompleted
	request.StripeRefundID = &refundID
	request.ApprovedAt = &now

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, request); err != nil {
			return err
		}
		_, err := s.payments.WithTx(tx).TransitionStatus(ctx, payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusSucceeded},
			enums.PaymentStatusRefunded, nil)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording refund approval")
	}

	s.metrics.IncPaymentOutcome(string(enums.PaymentStatusRefunded))
	s.notifyOwner(ctx, request.AccountID, enums.NotificationRefundCompleted,
		"Refund completed",
		fmt.Sprintf("Your refund of %s was approved and sent to the original payment method.", formatCents(request.AmountCents)))
	return request, nil
}

// Reject closes a pending request without touching the processor.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	request.Status = enums.RefundStatusRejected
	if err := s.repo.Update(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording refund rejection")
	}
	return request, nil
}

// ListByAccount returns the account's refund requests, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.RefundRequest, error) {
	result, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing refund requests")
	}
	return result, nil
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]models.RefundRequest, error) {
	result, err := s.repo.ListByStatus(ctx, enums.RefundStatusPending)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing pending refunds")
	}
	return result, nil
}

func (s *Service) loadPending(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up refund request")
	}
	if request == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}
	if request.Status != enums.RefundStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("refund request is already %s", request.Status))
	}
	return request, nil
}

func (s *Service) notifyOwner(ctx context.Context, accountID uuid.UUID, kind enums.NotificationType, title, message string) {
	email := ""
	account, err := s.accounts.FindByID(ctx, accountID)
	if err == nil && account != nil {
		email = account.OwnerEmail
	}
	if err := s.notifications.Notify(ctx, accountID, kind, title, message, email); err != nil {
		s.logger.Error(ctx, "recording refund notification", err)
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d USD", cents/100, cents%100)
}
