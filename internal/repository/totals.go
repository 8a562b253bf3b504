package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
)

// StatusTotal is the row count and amount sum of one status bucket.
type StatusTotal struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Sum    decimal.Decimal `json:"sum"`
}

func statusTotals(q *gorm.DB, batchID uuid.UUID, amountExpr string) ([]StatusTotal, error) {
	var rows []StatusTotal
	err := q.Where("batch_id = ?", batchID).
		Select("status, COUNT(*) as count, COALESCE(SUM(" + amountExpr + "),0) as sum").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, errors.Wrap(err, "sum by status")
}

func (r *BankTransactionRepository) TotalsByStatus(ctx context.Context, batchID uuid.UUID) ([]StatusTotal, error) {
	return statusTotals(r.db.WithContext(ctx).Model(&models.BankTransaction{}), batchID, "amount")
}

// TotalsByStatus sums the payable amount: total when set, else net amount.
func (r *InvoiceRepository) TotalsByStatus(ctx context.Context, batchID uuid.UUID) ([]StatusTotal, error) {
	return statusTotals(r.db.WithContext(ctx).Model(&models.Invoice{}), batchID,
		"CASE WHEN total_amount <> 0 THEN total_amount ELSE amount END")
}
