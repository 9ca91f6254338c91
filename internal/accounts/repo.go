package accounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
)

// Repository handles account persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	AddCreditBalance(ctx context.Context, id uuid.UUID, deltaCents int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) Update(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) AddCreditBalance(ctx context.Context, id uuid.UUID, deltaCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("credit_balance_cents", gorm.Expr("credit_balance_cents + ?", deltaCents)).Error
}
