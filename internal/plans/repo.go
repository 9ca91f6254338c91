package plans

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
)

// Repository handles plan catalog persistence. The catalog is read-only to
// the billing subsystem; writes happen through ops tooling and migrations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	FindBySlug(ctx context.Context, slug string) (*models.Plan, error)
	ListActive(ctx context.Context) ([]models.Plan, error)
	UpdateStripeProductID(ctx context.Context, id uuid.UUID, productID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.Plan, error) {
	var result []models.Plan
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("base_price_monthly ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) UpdateStripeProductID(ctx context.Context, id uuid.UUID, productID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("id = ?", id).
		Update("stripe_product_id", productID).Error
}
