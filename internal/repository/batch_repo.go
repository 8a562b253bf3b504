package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *models.ReconciliationBatch) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(b).Error, "create batch")
}

func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	var b models.ReconciliationBatch
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&models.ReconciliationBatch{}).
		Where("id = ?", id).
		Updates(fields).Error
	return errors.Wrap(err, "update batch")
}
