package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

// PlanCatalog describes the catalog surface used by the HTTP controllers.
type PlanCatalog interface {
	ListActive(ctx context.Context) ([]models.Plan, error)
	GetBySlug(ctx context.Context, slug string) (*models.Plan, error)
}

type planResponse struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`

	BasePriceMonthly string `json:"base_price_monthly"`
	BasePriceYearly  string `json:"base_price_yearly"`

	TeacherSeatPriceMonthly string `json:"teacher_seat_price_monthly"`
	TeacherSeatPriceYearly  string `json:"teacher_seat_price_yearly"`
	StudentSeatPriceMonthly string `json:"student_seat_price_monthly"`
	StudentSeatPriceYearly  string `json:"student_seat_price_yearly"`

	MaxTeachers int `json:"max_teachers"`
	MaxStudents int `json:"max_students"`
	MaxClasses  int `json:"max_classes"`
	MaxSchools  int `json:"max_schools"`

	TrialDays int      `json:"trial_days"`
	Features  []string `json:"features"`
	CreatedAt string   `json:"created_at"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

func PlansList(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		plans, err := catalog.ListActive(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

func PlanDetail(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		slug := chi.URLParam(r, "planSlug")
		plan, err := catalog.GetBySlug(ctx, slug)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !plan.Active {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func plansToResponse(plans []models.Plan) []planResponse {
	result := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		result = append(result, planToResponse(&plan))
	}
	return result
}

func planToResponse(plan *models.Plan) planResponse {
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)

	return planResponse{
		ID:                      plan.ID.String(),
		Slug:                    plan.Slug,
		Name:                    plan.Name,
		BasePriceMonthly:        plan.BasePriceMonthly.StringFixed(2),
		BasePriceYearly:         plan.BasePriceYearly.StringFixed(2),
		TeacherSeatPriceMonthly: plan.TeacherSeatPriceMonthly.StringFixed(2),
		TeacherSeatPriceYearly:  plan.TeacherSeatPriceYearly.StringFixed(2),
		StudentSeatPriceMonthly: plan.StudentSeatPriceMonthly.StringFixed(2),
		StudentSeatPriceYearly:  plan.StudentSeatPriceYearly.StringFixed(2),
		MaxTeachers:             plan.MaxTeachers,
		MaxStudents:             plan.MaxStudents,
		MaxClasses:              plan.MaxClasses,
		MaxSchools:              plan.MaxSchools,
		TrialDays:               plan.TrialDays,
		Features:                features,
		CreatedAt:               plan.CreatedAt.UTC().Format(time.RFC3339),
	}
}
