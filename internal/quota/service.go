package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	"github.com/campuskit-io/campuskit-backend/internal/plans"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

// UsageReader reports current active counts for a capped resource. Counts
// for academic resources (classes, schools) come from an external
// collaborator; seat counts come from the local user store.
type UsageReader interface {
	ActiveCount(ctx context.Context, accountID uuid.UUID, kind enums.QuotaKind) (int64, error)
}

// Catalog is the plan lookup surface the enforcer needs.
type Catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// Decision is the allow/deny outcome with an actionable message.
type Decision struct {
	Allowed      bool
	Kind         enums.QuotaKind
	EffectiveCap int64
	InUse        int64
	Remaining    int64
	Message      string
}

// ServiceParams groups dependencies for the quota enforcer.
type ServiceParams struct {
	Accounts accounts.Repository
	Catalog  Catalog
	Usage    UsageReader
}

// Service enforces plan caps widened by purchased seat add-ons.
type Service struct {
	accounts accounts.Repository
	catalog  Catalog
	usage    UsageReader
}

// NewService builds the quota enforcer.
func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, errors.New("accounts repo is required")
	}
	if params.Catalog == nil {
		return nil, errors.New("plan catalog is required")
	}
	if params.Usage == nil {
		return nil, errors.New("usage reader is required")
	}
	return &Service{
		accounts: params.Accounts,
		catalog:  params.Catalog,
		usage:    params.Usage,
	}, nil
}

// Check decides whether the account may provision additional resources of
// the given kind. Existing over-cap usage is grandfathered: it only blocks
// new provisioning, it is never evicted.
func (s *Service) Check(ctx context.Context, accountID uuid.UUID, kind enums.QuotaKind, additional int64) (*Decision, error) {
	if additional < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "additional count must not be negative")
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if account.PlanID == nil {
		return &Decision{
			Allowed: false,
			Kind:    kind,
			Message: "no active plan; purchase a plan before adding resources",
		}, nil
	}

	plan, err := s.catalog.GetByID(ctx, *account.PlanID)
	if err != nil {
		return nil, err
	}

	cap := int64(plans.QuotaCap(plan, kind))
	switch kind {
	case enums.QuotaKindTeacher:
		cap += int64(account.ExtraTeacherSeats)
	case enums.QuotaKindStudent:
		cap += int64(account.ExtraStudentSeats)
	}

	inUse, err := s.usage.ActiveCount(ctx, accountID, kind)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading resource usage")
	}

	remaining := cap - inUse
	if remaining < 0 {
		remaining = 0
	}

	decision := &Decision{
		Kind:         kind,
		EffectiveCap: cap,
		InUse:        inUse,
		Remaining:    remaining,
	}
	if remaining >= additional {
		decision.Allowed = true
		decision.Message = fmt.Sprintf("%d of %d %s slots remain", remaining, cap, kind)
		return decision, nil
	}

	decision.Message = fmt.Sprintf("%s limit reached: %d of %d slots in use, %d remaining (requested %d)", kind, inUse, cap, remaining, additional)
	return decision, nil
}

// ApplyAddons writes the purchased seat counts onto the account's usable
// limits after a confirmed payment. Negative inputs are clamped; shrinking
// the cap never evicts existing users, it only blocks new provisioning.
func (s *Service) ApplyAddons(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, teacherSeats, studentSeats int) error {
	if teacherSeats < 0 {
		teacherSeats = 0
	}
	if studentSeats < 0 {
		studentSeats = 0
	}
	return s.accounts.WithTx(tx).UpdateFields(ctx, accountID, map[string]any{
		"extra_teacher_seats": teacherSeats,
		"extra_student_seats": studentSeats,
	})
}
