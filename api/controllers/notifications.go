package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/api/responses"
	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

type NotificationLister interface {
	List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Notification, error)
}

type notificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func NotificationsList(svc NotificationLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			limit = parsed
		}

		rows, err := svc.List(ctx, middleware.AccountIDFromContext(ctx), limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing notifications"))
			return
		}

		result := make([]notificationResponse, 0, len(rows))
		for _, row := range rows {
			result = append(result, notificationResponse{
				ID:        row.ID.String(),
				Type:      string(row.Type),
				Title:     row.Title,
				Message:   row.Message,
				CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		responses.WriteSuccess(w, map[string]any{"notifications": result})
	}
}
