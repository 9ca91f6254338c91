package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/api/validators"
	"github.com/campuskit-io/campuskit-backend/internal/refunds"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

// RefundService describes the refund workflow surface used by the HTTP
// controllers.
type RefundService interface {
	Request(ctx context.Context, input refunds.RequestInput) (*models.RefundRequest, error)
	Approve(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
	Reject(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.RefundRequest, error)
	ListPending(ctx context.Context) ([]models.RefundRequest, error)
}

type refundRequestBody struct {
	PaymentID string `json:"payment_id" validate:"required,uuid"`
	Reason    string `json:"reason" validate:"required"`
}

type refundResponse struct {
	ID             string `json:"id"`
	PaymentID      string `json:"payment_id"`
	AmountCents    int64  `json:"amount_cents"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	StripeRefundID string `json:"stripe_refund_id,omitempty"`
	ApprovedAt     string `json:"approved_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type refundListResponse struct {
	Refunds []refundResponse `json:"refunds"`
}

func RefundRequestCreate(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		var payload refundRequestBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		paymentID, err := uuid.Parse(payload.PaymentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		request, err := svc.Request(ctx, refunds.RequestInput{
			AccountID: middleware.AccountIDFromContext(ctx),
			UserID:    middleware.UserIDFromContext(ctx),
			PaymentID: paymentID,
			Reason:    payload.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refundToResponse(request))
	}
}

func RefundRequestsList(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		requests, err := svc.ListByAccount(ctx, middleware.AccountIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, refundListResponse{Refunds: refundsToResponse(requests)})
	}
}

func AdminRefundsPending(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		requests, err := svc.ListPending(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, refundListResponse{Refunds: refundsToResponse(requests)})
	}
}

func AdminRefundApprove(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
		return svc.Approve(ctx, id)
	})
}

func AdminRefundReject(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
		return svc.Reject(ctx, id)
	})
}

func refundDecision(svc RefundService, logg *logger.Logger, decide func(context.Context, uuid.UUID) (*models.RefundRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "refundId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund request id"))
			return
		}

		request, err := decide(ctx, requestID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, refundToResponse(request))
	}
}

func refundsToResponse(requests []models.RefundRequest) []refundResponse {
	result := make([]refundResponse, 0, len(requests))
	for _, request := range requests {
		result = append(result, refundToResponse(&request))
	}
	return result
}

func refundToResponse(request *models.RefundRequest) refundResponse {
	response := refundResponse{
		ID:          request.ID.String(),
		PaymentID:   request.PaymentID.String(),
		AmountCents: request.AmountCents,
		Status:      string(request.Status),
		Reason:      request.Reason,
		CreatedAt:   request.CreatedAt.UTC().Format(time.RFC3339),
	}
	if request.StripeRefundID != nil {
		response.StripeRefundID = *request.StripeRefundID
	}
	if request.ApprovedAt != nil {
		response.ApprovedAt = request.ApprovedAt.UTC().Format(time.RFC3339)
	}
	return response
}
