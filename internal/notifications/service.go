package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
)

// Mailer is the outbound email collaborator. Delivery is fire-and-forget:
// failures are logged, never propagated into billing flows.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Repository handles in-app notification persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Notification, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a notification repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var result []models.Notification
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ServiceParams groups dependencies for the notification service.
type ServiceParams struct {
	Repo   Repository
	Mailer Mailer
	Logger *logger.Logger
}

// Service records in-app notifications and dispatches best-effort email.
type Service struct {
	repo   Repository
	mailer Mailer
	logg   *logger.Logger
}

// NewService builds a notification service. The mailer is optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:   params.Repo,
		mailer: params.Mailer,
		logg:   params.Logger,
	}, nil
}

// Notify writes the in-app row and, when an email address is supplied,
// attempts delivery. Email failure never fails the caller.
func (s *Service) Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationType, title, message, email string) error {
	notification := &models.Notification{
		AccountID: accountID,
		Type:      kind,
		Title:     title,
		Message:   message,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return err
	}

	if s.mailer != nil && email != "" {
		if err := s.mailer.Send(ctx, email, title, message); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "notification_type", kind.String()), "sending notification email", err)
		}
	}
	return nil
}

// List returns recent in-app notifications for the account.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Notification, error) {
	return s.repo.ListByAccount(ctx, accountID, limit)
}
