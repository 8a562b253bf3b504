package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"invoice-reconciliation-engine/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

// CreateMany inserts rows, ignoring ids that already exist.
func (r *BankTransactionRepository) CreateMany(ctx context.Context, txs []models.BankTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(txs, 100).Error
	return errors.Wrap(err, "create bank transactions")
}

// ListByBatch returns the batch rows in storage order. An empty status lists all rows.
func (r *BankTransactionRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, status string) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at ASC").Order("id ASC").Find(&txs).Error
	return txs, errors.Wrap(err, "list bank transactions")
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// CountByStatus groups the batch rows by status.
func (r *BankTransactionRepository) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	return countByStatus(r.db.WithContext(ctx).Model(&models.BankTransaction{}), batchID)
}

type statRow struct {
	Status string
	Count  int64
}

func countByStatus(q *gorm.DB, batchID uuid.UUID) (map[string]int64, error) {
	var rows []statRow
	err := q.Where("batch_id = ?", batchID).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count by status")
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
