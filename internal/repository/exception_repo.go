package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
)

type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

func (r *ExceptionRepository) Create(ctx context.Context, exc *models.Exception) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(exc).Error, "create exception")
}

// DeletePending drops the batch's unhandled exceptions before a fresh detection pass.
func (r *ExceptionRepository) DeletePending(ctx context.Context, batchID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, models.ExceptionPending).
		Delete(&models.Exception{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete pending exceptions")
}

// ListByBatch returns batch exceptions; an empty status lists all of them.
func (r *ExceptionRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, status string) ([]models.Exception, error) {
	var out []models.Exception
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at ASC").Order("id ASC").Find(&out).Error
	return out, errors.Wrap(err, "list exceptions")
}

func (r *ExceptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Exception, error) {
	var exc models.Exception
	if err := r.db.WithContext(ctx).First(&exc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &exc, nil
}

// UpdateAdvice replaces the detail payload and suggestion of an exception.
func (r *ExceptionRepository) UpdateAdvice(ctx context.Context, exc *models.Exception) error {
	err := r.db.WithContext(ctx).Model(exc).Updates(map[string]interface{}{
		"detail":     exc.Detail,
		"suggestion": exc.Suggestion,
	}).Error
	return errors.Wrap(err, "update exception advice")
}

// Settle moves a pending exception to its final status. It reports false when
// the row was not pending anymore.
func (r *ExceptionRepository) Settle(ctx context.Context, exc *models.Exception, audit *models.MatchAuditLog) (bool, error) {
	settled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Exception{}).
			Where("id = ? AND status = ?", exc.ID, models.ExceptionPending).
			Updates(map[string]interface{}{
				"status":      exc.Status,
				"resolution":  exc.Resolution,
				"resolved_at": exc.ResolvedAt,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "settle exception")
		}
		if res.RowsAffected != 1 {
			return nil
		}
		settled = true
		return errors.Wrap(tx.Create(audit).Error, "write audit log")
	})
	return settled, err
}
