package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	"github.com/campuskit-io/campuskit-backend/pkg/pagination"
)

// Repository handles payment ledger persistence. Rows are append-mostly:
// they are created pending and advanced via status-gated updates, never
// deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PaymentRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	FindByStripeReference(ctx context.Context, reference string) (*models.PaymentRecord, error)
	FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string, since time.Time) (*models.PaymentRecord, error)
	FindLatestSucceeded(ctx context.Context, accountID uuid.UUID) (*models.PaymentRecord, error)
	FindSucceededSince(ctx context.Context, accountID uuid.UUID, cycle *enums.BillingCycle, since time.Time) ([]models.PaymentRecord, error)
	SetStripeReference(ctx context.Context, id uuid.UUID, reference, customerID string) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByStripeReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("stripe_reference = ?", reference).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindByIdempotencyKey scans the trailing window for a row carrying the
// supplied key in its metadata. The window keeps the candidate set small,
// and decoding in Go keeps the query portable across dialects.
func (r *repository) FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string, since time.Time) (*models.PaymentRecord, error) {
	if key == "" {
		return nil, nil
	}
	var candidates []models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ? AND metadata IS NOT NULL", accountID, since).
		Order("created_at DESC").
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	for i := range candidates {
		var meta models.PaymentMetadata
		if err := json.Unmarshal(candidates[i].Metadata, &meta); err != nil {
			continue
		}
		if meta.IdempotencyKey == key {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *repository) FindLatestSucceeded(ctx context.Context, accountID uuid.UUID) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, enums.PaymentStatusSucceeded).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindSucceededSince(ctx context.Context, accountID uuid.UUID, cycle *enums.BillingCycle, since time.Time) ([]models.PaymentRecord, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ? AND created_at >= ?", accountID, enums.PaymentStatusSucceeded, since)
	if cycle != nil {
		query = query.Where("billing_cycle = ?", *cycle)
	}
	var result []models.PaymentRecord
	if err := query.Order("created_at DESC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) SetStripeReference(ctx context.Context, id uuid.UUID, reference, customerID string) error {
	updates := map[string]any{"stripe_reference": reference}
	if customerID != "" {
		updates["stripe_customer_id"] = customerID
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionStatus applies a compare-and-set on the status column: the
// update lands only while the row is still in one of the from statuses.
// Returns false when another delivery already advanced the row.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkEmailSent stamps email_sent_at once; later calls are no-ops.
func (r *repository) MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND email_sent_at IS NULL", id).
		Update("email_sent_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.PaymentRecord, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.PaymentRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var next *pagination.Cursor
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return rows, next, nil
}
