package plans

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

var centsFactor = decimal.NewFromInt(100)

// ServiceParams groups dependencies for the plan catalog.
type ServiceParams struct {
	Repo Repository
}

// Service is the read-only plan catalog. Unknown plans are a hard stop;
// callers never fall back to a default price.
type Service struct {
	repo Repository
}

// NewService builds the catalog service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// GetBySlug resolves a plan by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	plan, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %q not found", slug))
	}
	return plan, nil
}

// GetByID resolves a plan by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %s not found", id))
	}
	return plan, nil
}

// SetStripeProductID persists the processor product backing the plan so
// later price lookups reuse it.
func (s *Service) SetStripeProductID(ctx context.Context, id uuid.UUID, productID string) error {
	if err := s.repo.UpdateStripeProductID(ctx, id, productID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving plan product id")
	}
	return nil
}

// ListActive returns the purchasable catalog.
func (s *Service) ListActive(ctx context.Context) ([]models.Plan, error) {
	result, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return result, nil
}

// BasePrice returns the plan's base price for the cycle in minor units.
func BasePrice(plan *models.Plan, cycle enums.BillingCycle) (int64, error) {
	switch cycle {
	case enums.BillingCycleMonthly, enums.BillingCycleOneTime:
		return toCents(plan.BasePriceMonthly), nil
	case enums.BillingCycleYearly:
		return toCents(plan.BasePriceYearly), nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan %q has no pricing for cycle %q", plan.Slug, cycle))
	}
}

// AddonUnitPrice returns the per-seat price for the addon kind and cycle in
// minor units.
func AddonUnitPrice(plan *models.Plan, cycle enums.BillingCycle, kind enums.AddonKind) (int64, error) {
	var monthly, yearly decimal.Decimal
	switch kind {
	case enums.AddonKindTeacherSeat:
		monthly, yearly = plan.TeacherSeatPriceMonthly, plan.TeacherSeatPriceYearly
	case enums.AddonKindStudentSeat:
		monthly, yearly = plan.StudentSeatPriceMonthly, plan.StudentSeatPriceYearly
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown addon kind %q", kind))
	}

	switch cycle {
	case enums.BillingCycleMonthly, enums.BillingCycleOneTime:
		return toCents(monthly), nil
	case enums.BillingCycleYearly:
		return toCents(yearly), nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan %q has no addon pricing for cycle %q", plan.Slug, cycle))
	}
}

// QuotaCap returns the plan's cap for the resource kind.
func QuotaCap(plan *models.Plan, kind enums.QuotaKind) int {
	switch kind {
	case enums.QuotaKindTeacher:
		return plan.MaxTeachers
	case enums.QuotaKindStudent:
		return plan.MaxStudents
	case enums.QuotaKindClass:
		return plan.MaxClasses
	case enums.QuotaKindSchool:
		return plan.MaxSchools
	default:
		return 0
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(centsFactor).Round(0).IntPart()
}
