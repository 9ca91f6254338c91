package billing

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/pagination"
)

// PaymentHistory describes the ledger read surface used by the HTTP
// controllers.
type PaymentHistory interface {
	GetByID(ctx context.Context, accountID, paymentID uuid.UUID) (*models.PaymentRecord, error)
	List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error)
}

type paymentResponse struct {
	ID              string `json:"id"`
	PlanID          string `json:"plan_id"`
	Mode            string `json:"mode"`
	Status          string `json:"status"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	TeacherSeats    int    `json:"teacher_seats"`
	StudentSeats    int    `json:"student_seats"`
	AddonCostCents  int64  `json:"addon_cost_cents"`
	BaseCostCents   int64  `json:"base_cost_cents"`
	TotalCostCents  int64  `json:"total_cost_cents"`
	BillingCycle    string `json:"billing_cycle"`
	StripeReference string `json:"stripe_reference,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type paymentListResponse struct {
	Payments   []paymentResponse `json:"payments"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func PaymentsList(svc PaymentHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		params := pagination.Params{Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}
		if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
			limit, err := strconv.Atoi(rawLimit)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		rows, next, err := svc.List(ctx, middleware.AccountIDFromContext(ctx), params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		response := paymentListResponse{Payments: paymentsToResponse(rows)}
		if next != nil {
			response.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, response)
	}
}

func PaymentDetail(svc PaymentHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		record, err := svc.GetByID(ctx, middleware.AccountIDFromContext(ctx), paymentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentToResponse(record))
	}
}

func paymentsToResponse(rows []models.PaymentRecord) []paymentResponse {
	result := make([]paymentResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, paymentToResponse(&row))
	}
	return result
}

func paymentToResponse(record *models.PaymentRecord) paymentResponse {
	response := paymentResponse{
		ID:             record.ID.String(),
		PlanID:         record.PlanID.String(),
		Mode:           string(record.Mode),
		Status:         string(record.Status),
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		TeacherSeats:   record.TeacherSeats,
		StudentSeats:   record.StudentSeats,
		AddonCostCents: record.AddonCostCents,
		BaseCostCents:  record.BasePlanPriceCents,
		TotalCostCents: record.TotalCostCents,
		BillingCycle:   string(record.BillingCycle),
		CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
	}
	if record.StripeReference != nil {
		response.StripeReference = *record.StripeReference
	}
	if record.FailureReason != nil {
		response.FailureReason = *record.FailureReason
	}
	return response
}
