package billing

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/internal/quota"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

// QuotaService describes the quota enforcer surface used by the HTTP
// controllers.
type QuotaService interface {
	Check(ctx context.Context, accountID uuid.UUID, kind enums.QuotaKind, additional int64) (*quota.Decision, error)
}

type quotaCheckResponse struct {
	Allowed      bool   `json:"allowed"`
	Kind         string `json:"kind"`
	EffectiveCap int64  `json:"effective_cap"`
	InUse        int64  `json:"in_use"`
	Remaining    int64  `json:"remaining"`
	Message      string `json:"message"`
}

func QuotaCheck(svc QuotaService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quota service unavailable"))
			return
		}

		kind, err := enums.ParseQuotaKind(chi.URLParam(r, "kind"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quota kind"))
			return
		}

		additional := int64(1)
		if raw := strings.TrimSpace(r.URL.Query().Get("additional")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid additional count"))
				return
			}
			additional = parsed
		}

		decision, err := svc.Check(ctx, middleware.AccountIDFromContext(ctx), kind, additional)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, quotaCheckResponse{
			Allowed:      decision.Allowed,
			Kind:         string(decision.Kind),
			EffectiveCap: decision.EffectiveCap,
			InUse:        decision.InUse,
			Remaining:    decision.Remaining,
			Message:      decision.Message,
		})
	}
}
