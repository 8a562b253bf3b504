package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
)

type MatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Claim writes the match and flips both records to matched as one transaction.
// Either record no longer being pending aborts the whole unit with ErrAlreadyClaimed.
func (r *MatchRepository) Claim(ctx context.Context, m *models.MatchResult) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BankTransaction{}).
			Where("id = ? AND batch_id = ? AND status = ?", m.BankID, m.BatchID, models.StatusPending).
			Updates(map[string]interface{}{"status": models.StatusMatched, "match_id": m.ID})
		if res.Error != nil {
			return errors.Wrap(res.Error, "claim bank transaction")
		}
		if res.RowsAffected != 1 {
			return ErrAlreadyClaimed
		}

		res = tx.Model(&models.Invoice{}).
			Where("id = ? AND batch_id = ? AND status = ?", m.InvoiceID, m.BatchID, models.StatusPending).
			Updates(map[string]interface{}{"status": models.StatusMatched, "match_id": m.ID})
		if res.Error != nil {
			return errors.Wrap(res.Error, "claim invoice")
		}
		if res.RowsAffected != 1 {
			return ErrAlreadyClaimed
		}

		return errors.Wrap(tx.Create(m).Error, "create match result")
	})
}

func (r *MatchRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.MatchResult, error) {
	var matches []models.MatchResult
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").Order("id ASC").
		Find(&matches).Error
	return matches, errors.Wrap(err, "list match results")
}

func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MatchResult, error) {
	var m models.MatchResult
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Confirm marks a match operator-confirmed and records the audit row.
func (r *MatchRepository) Confirm(ctx context.Context, m *models.MatchResult, audit *models.MatchAuditLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(m).Updates(map[string]interface{}{
			"confirmed":          true,
			"needs_confirmation": false,
		}).Error
		if err != nil {
			return errors.Wrap(err, "confirm match")
		}
		return errors.Wrap(tx.Create(audit).Error, "write audit log")
	})
}

// CountByType groups the batch matches by match type.
func (r *MatchRepository) CountByType(ctx context.Context, batchID uuid.UUID) (map[models.MatchType]int64, error) {
	var rows []struct {
		MatchType models.MatchType
		Count     int64
	}
	err := r.db.WithContext(ctx).Model(&models.MatchResult{}).
		Where("batch_id = ?", batchID).
		Select("match_type, COUNT(*) as count").
		Group("match_type").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count matches by type")
	}
	out := make(map[models.MatchType]int64, len(rows))
	for _, r := range rows {
		out[r.MatchType] = r.Count
	}
	return out, nil
}
