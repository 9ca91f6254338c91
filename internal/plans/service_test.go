package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

type stubRepo struct {
	plans map[string]*models.Plan
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	for _, plan := range s.plans {
		if plan.ID == id {
			return plan, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) FindBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	return s.plans[slug], nil
}

func (s *stubRepo) ListActive(ctx context.Context) ([]models.Plan, error) {
	var result []models.Plan
	for _, plan := range s.plans {
		if plan.Active {
			result = append(result, *plan)
		}
	}
	return result, nil
}

func (s *stubRepo) UpdateStripeProductID(ctx context.Context, id uuid.UUID, productID string) error {
	return nil
}

func testPlan() *models.Plan {
	return &models.Plan{
		ID:                      uuid.New(),
		Slug:                    "single-class",
		Name:                    "Single Class",
		Active:                  true,
		BasePriceMonthly:        decimal.NewFromInt(25),
		BasePriceYearly:         decimal.NewFromInt(240),
		TeacherSeatPriceMonthly: decimal.NewFromInt(5),
		TeacherSeatPriceYearly:  decimal.NewFromInt(60),
		StudentSeatPriceMonthly: decimal.NewFromFloat(0.50),
		StudentSeatPriceYearly:  decimal.NewFromInt(5),
		MaxTeachers:             1,
		MaxStudents:             30,
		MaxClasses:              1,
	}
}

func TestGetBySlugNotFoundIsHardStop(t *testing.T) {
	svc, err := NewService(ServiceParams{Repo: &stubRepo{plans: map[string]*models.Plan{}}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.GetBySlug(context.Background(), "ghost-plan")
	if err == nil {
		t.Fatalf("expected error for unknown slug")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestBasePriceMinorUnits(t *testing.T) {
	plan := testPlan()

	monthly, err := BasePrice(plan, enums.BillingCycleMonthly)
	if err != nil {
		t.Fatalf("BasePrice monthly: %v", err)
	}
	if monthly != 2500 {
		t.Fatalf("expected 2500 cents, got %d", monthly)
	}

	yearly, err := BasePrice(plan, enums.BillingCycleYearly)
	if err != nil {
		t.Fatalf("BasePrice yearly: %v", err)
	}
	if yearly != 24000 {
		t.Fatalf("expected 24000 cents, got %d", yearly)
	}
}

func TestAddonUnitPrice(t *testing.T) {
	plan := testPlan()

	teacher, err := AddonUnitPrice(plan, enums.BillingCycleMonthly, enums.AddonKindTeacherSeat)
	if err != nil {
		t.Fatalf("AddonUnitPrice: %v", err)
	}
	if teacher != 500 {
		t.Fatalf("expected 500 cents, got %d", teacher)
	}

	student, err := AddonUnitPrice(plan, enums.BillingCycleMonthly, enums.AddonKindStudentSeat)
	if err != nil {
		t.Fatalf("AddonUnitPrice: %v", err)
	}
	if student != 50 {
		t.Fatalf("expected 50 cents, got %d", student)
	}

	if _, err := AddonUnitPrice(plan, enums.BillingCycleMonthly, enums.AddonKind("admin_seat")); err == nil {
		t.Fatalf("expected error for unknown addon kind")
	}
}

func TestPricesNeverNegative(t *testing.T) {
	plan := testPlan()
	cycles := []enums.BillingCycle{enums.BillingCycleMonthly, enums.BillingCycleYearly, enums.BillingCycleOneTime}
	kinds := []enums.AddonKind{enums.AddonKindTeacherSeat, enums.AddonKindStudentSeat}
	for _, cycle := range cycles {
		base, err := BasePrice(plan, cycle)
		if err != nil {
			t.Fatalf("BasePrice %s: %v", cycle, err)
		}
		if base < 0 {
			t.Fatalf("base price for %s is negative", cycle)
		}
		for _, kind := range kinds {
			unit, err := AddonUnitPrice(plan, cycle, kind)
			if err != nil {
				t.Fatalf("AddonUnitPrice %s/%s: %v", cycle, kind, err)
			}
			if unit < 0 {
				t.Fatalf("addon price for %s/%s is negative", cycle, kind)
			}
		}
	}
}

func TestQuotaCap(t *testing.T) {
	plan := testPlan()
	if QuotaCap(plan, enums.QuotaKindStudent) != 30 {
		t.Fatalf("expected student cap 30")
	}
	if QuotaCap(plan, enums.QuotaKindTeacher) != 1 {
		t.Fatalf("expected teacher cap 1")
	}
	if QuotaCap(plan, enums.QuotaKind("unknown")) != 0 {
		t.Fatalf("unknown kind caps at 0")
	}
}
