package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"invoice-reconciliation-engine/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) CreateMany(ctx context.Context, invoices []models.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(invoices, 100).Error
	return errors.Wrap(err, "create invoices")
}

// ListByBatch returns the batch invoices in storage order. An empty status lists all rows.
func (r *InvoiceRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, status string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at ASC").Order("id ASC").Find(&invoices).Error
	return invoices, errors.Wrap(err, "list invoices")
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// SellerNames lists seller names in first-seen order, optionally scoped to a batch.
// Duplicates are kept; callers dedupe on their own notion of equality.
func (r *InvoiceRepository) SellerNames(ctx context.Context, batchID *uuid.UUID) ([]string, error) {
	var names []string
	q := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("seller_name <> ''")
	if batchID != nil {
		q = q.Where("batch_id = ?", *batchID)
	}
	err := q.Order("created_at ASC").Order("id ASC").Pluck("seller_name", &names).Error
	return names, errors.Wrap(err, "list seller names")
}

func (r *InvoiceRepository) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	return countByStatus(r.db.WithContext(ctx).Model(&models.Invoice{}), batchID)
}
