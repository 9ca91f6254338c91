package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/responses"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

const (
	accountIDHeader = "X-Account-Id"
	userIDHeader    = "X-User-Id"
	operatorHeader  = "X-Operator-Key"
)

// AccountContext resolves the tenant from the X-Account-Id header. Routes
// behind it always have a valid account id in the context.
func AccountContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw := r.Header.Get(accountIDHeader)
			if raw == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account id header is required"))
				return
			}
			accountID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id header"))
				return
			}

			ctx = WithAccountID(ctx, accountID)
			if logg != nil {
				ctx = logg.WithAccountID(ctx, accountID.String())
			}

			if rawUser := r.Header.Get(userIDHeader); rawUser != "" {
				userID, err := uuid.Parse(rawUser)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id header"))
					return
				}
				ctx = WithUserID(ctx, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOperator gates the back-office routes behind a shared key.
func RequireOperator(key string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(operatorHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "resource not found"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
