package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/pagination"
)

// ServiceParams groups dependencies for the ledger query service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes read access to the payment ledger. Writes go through the
// checkout orchestrator and the webhook reconciler.
type Service struct {
	repo Repository
}

// NewService builds the ledger query service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// GetByID returns a ledger row scoped to the account.
func (s *Service) GetByID(ctx context.Context, accountID, paymentID uuid.UUID) (*models.PaymentRecord, error) {
	record, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if record == nil || record.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return record, nil
}

// GetByReference resolves a ledger row by its external processor reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	record, err := s.repo.FindByStripeReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return record, nil
}

// List pages through the account's payment history, newest first.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error) {
	rows, next, err := s.repo.List(ctx, accountID, params)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payments")
	}
	return rows, next, nil
}
