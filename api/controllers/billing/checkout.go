// Package billing exposes the purchase, upgrade, payment history, and
// refund endpoints for tenant accounts.
package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/api/validators"
	checkoutsvc "github.com/campuskit-io/campuskit-backend/internal/checkout"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	stripegw "github.com/campuskit-io/campuskit-backend/pkg/stripe"
)

// CheckoutService describes the purchase orchestrator surface used by the
// HTTP controllers.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, input checkoutsvc.CheckoutInput) (*checkoutsvc.Result, error)
	CreateIntent(ctx context.Context, input checkoutsvc.CheckoutInput) (*checkoutsvc.Result, error)
	PreviewUpgrade(ctx context.Context, input checkoutsvc.UpgradeInput) (*checkoutsvc.Preview, error)
	CreateUpgrade(ctx context.Context, input checkoutsvc.UpgradeInput) (*checkoutsvc.Result, error)
	PortalSession(ctx context.Context, accountID uuid.UUID) (string, error)
	ListPaymentMethods(ctx context.Context, accountID uuid.UUID) ([]stripegw.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, accountID uuid.UUID, paymentMethodID string) error
}

type checkoutRequest struct {
	PlanSlug        string `json:"plan_slug" validate:"required"`
	BillingCycle    string `json:"billing_cycle" validate:"required"`
	TeacherSeats    int    `json:"teacher_seats" validate:"min=0"`
	StudentSeats    int    `json:"student_seats" validate:"min=0"`
	PaymentMethodID string `json:"payment_method_id"`
}

type upgradeRequest struct {
	PlanSlug       string `json:"plan_slug" validate:"required"`
	BillingCycle   string `json:"billing_cycle" validate:"required"`
	TeacherSeats   int    `json:"teacher_seats" validate:"min=0"`
	StudentSeats   int    `json:"student_seats" validate:"min=0"`
	IdempotencyKey string `json:"idempotency_key"`
}

type attachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

func CheckoutCreate(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := checkoutInputFromRequest(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateCheckout(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func CheckoutIntent(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := checkoutInputFromRequest(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateIntent(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func UpgradePreview(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload upgradeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := upgradeInputFromRequest(ctx, r, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		preview, err := svc.PreviewUpgrade(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

func UpgradeCreate(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload upgradeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := upgradeInputFromRequest(ctx, r, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateUpgrade(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func PortalSessionCreate(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		url, err := svc.PortalSession(ctx, middleware.AccountIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"url": url})
	}
}

func PaymentMethodsList(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		methods, err := svc.ListPaymentMethods(ctx, middleware.AccountIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"payment_methods": methods})
	}
}

func PaymentMethodAttach(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload attachPaymentMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.AttachPaymentMethod(ctx, middleware.AccountIDFromContext(ctx), payload.PaymentMethodID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"status": "attached"})
	}
}

func checkoutInputFromRequest(ctx context.Context, payload checkoutRequest) (checkoutsvc.CheckoutInput, error) {
	cycle, err := enums.ParseBillingCycle(payload.BillingCycle)
	if err != nil {
		return checkoutsvc.CheckoutInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle")
	}
	return checkoutsvc.CheckoutInput{
		AccountID: middleware.AccountIDFromContext(ctx),
		PlanSlug:  payload.PlanSlug,
		Cycle:     cycle,
		Addons: checkoutsvc.AddonSelection{
			TeacherSeats: payload.TeacherSeats,
			StudentSeats: payload.StudentSeats,
		},
		PaymentMethodID: payload.PaymentMethodID,
	}, nil
}

func upgradeInputFromRequest(ctx context.Context, r *http.Request, payload upgradeRequest) (checkoutsvc.UpgradeInput, error) {
	cycle, err := enums.ParseBillingCycle(payload.BillingCycle)
	if err != nil {
		return checkoutsvc.UpgradeInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle")
	}
	key := payload.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	return checkoutsvc.UpgradeInput{
		AccountID:   middleware.AccountIDFromContext(ctx),
		NewPlanSlug: payload.PlanSlug,
		Cycle:       cycle,
		Addons: checkoutsvc.AddonSelection{
			TeacherSeats: payload.TeacherSeats,
			StudentSeats: payload.StudentSeats,
		},
		IdempotencyKey: key,
	}, nil
}
