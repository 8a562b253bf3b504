package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"invoice-reconciliation-engine/internal/models"
)

var ErrInvalidRecord = errors.New("invalid record")

const dateLayout = "2006-01-02"

// BankInput is one parsed bank statement line. Dates use YYYY-MM-DD.
type BankInput struct {
	TransactionDate string           `json:"transaction_date"`
	PayerName       string           `json:"payer_name"`
	PayerAccount    string           `json:"payer_account"`
	Amount          decimal.Decimal  `json:"amount"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Remark          string           `json:"remark"`
	TransactionNo   string           `json:"transaction_no"`
}

type InvoiceInput struct {
	InvoiceCode     string          `json:"invoice_code"`
	InvoiceNumber   string          `json:"invoice_number"`
	SellerName      string          `json:"seller_name"`
	BuyerName       string          `json:"buyer_name"`
	Amount          decimal.Decimal `json:"amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TaxRate         string          `json:"tax_rate"`
	InvoiceDate     string          `json:"invoice_date"`
	ItemDescription string          `json:"item_description"`
	Remark          string          `json:"remark"`
}

func (s *Service) CreateBatch(ctx context.Context, name string) (*models.ReconciliationBatch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "batch " + time.Now().Format("2006-01-02 15:04")
	}
	batch := &models.ReconciliationBatch{
		ID:        uuid.New(),
		Name:      name,
		Status:    models.StageIdle,
		CreatedAt: time.Now(),
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"batch_id": batch.ID, "name": name}).Info("batch created")
	return batch, nil
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	return s.batches.GetByID(ctx, id)
}

// AddBankTransactions stores parsed statement lines as pending rows. The
// whole slice is rejected when any line is invalid.
func (s *Service) AddBankTransactions(ctx context.Context, batchID uuid.UUID, in []BankInput) (int, error) {
	if err := s.ingestable(ctx, batchID); err != nil {
		return 0, err
	}
	base := time.Now()
	rows := make([]models.BankTransaction, 0, len(in))
	for i, r := range in {
		if !r.Amount.IsPositive() {
			return 0, errors.Wrapf(ErrInvalidRecord, "transaction %d: amount must be positive", i)
		}
		date, err := parseDate(r.TransactionDate)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidRecord, "transaction %d: %v", i, err)
		}
		rows = append(rows, models.BankTransaction{
			ID:              uuid.New(),
			BatchID:         batchID,
			TransactionDate: date,
			PayerName:       strings.TrimSpace(r.PayerName),
			PayerAccount:    strings.TrimSpace(r.PayerAccount),
			Amount:          r.Amount,
			Balance:         r.Balance,
			Remark:          r.Remark,
			TransactionNo:   r.TransactionNo,
			Status:          models.StatusPending,
			CreatedAt:       base.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if err := s.banks.CreateMany(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), s.refreshTotals(ctx, batchID)
}

func (s *Service) AddInvoices(ctx context.Context, batchID uuid.UUID, in []InvoiceInput) (int, error) {
	if err := s.ingestable(ctx, batchID); err != nil {
		return 0, err
	}
	base := time.Now()
	rows := make([]models.Invoice, 0, len(in))
	for i, r := range in {
		if strings.TrimSpace(r.SellerName) == "" {
			return 0, errors.Wrapf(ErrInvalidRecord, "invoice %d: seller name is required", i)
		}
		if !r.Amount.IsPositive() && !r.TotalAmount.IsPositive() {
			return 0, errors.Wrapf(ErrInvalidRecord, "invoice %d: amount must be positive", i)
		}
		date, err := parseDate(r.InvoiceDate)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidRecord, "invoice %d: %v", i, err)
		}
		rows = append(rows, models.Invoice{
			ID:              uuid.New(),
			BatchID:         batchID,
			InvoiceCode:     strings.TrimSpace(r.InvoiceCode),
			InvoiceNumber:   strings.TrimSpace(r.InvoiceNumber),
			SellerName:      strings.TrimSpace(r.SellerName),
			BuyerName:       strings.TrimSpace(r.BuyerName),
			Amount:          r.Amount,
			TaxAmount:       r.TaxAmount,
			TotalAmount:     r.TotalAmount,
			TaxRate:         r.TaxRate,
			InvoiceDate:     date,
			ItemDescription: r.ItemDescription,
			Remark:          r.Remark,
			Status:          models.StatusPending,
			CreatedAt:       base.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if err := s.invoices.CreateMany(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), s.refreshTotals(ctx, batchID)
}

func (s *Service) ingestable(ctx context.Context, batchID uuid.UUID) error {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return err
	}
	if s.Running(batchID) {
		return ErrBatchRunning
	}
	return nil
}

func (s *Service) refreshTotals(ctx context.Context, batchID uuid.UUID) error {
	banks, invoices, err := s.totals(ctx, batchID)
	if err != nil {
		return err
	}
	return s.batches.Update(ctx, batchID, map[string]interface{}{
		"total_bank_count":    banks,
		"total_invoice_count": invoices,
	})
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, errors.Errorf("date %q is not YYYY-MM-DD", s)
	}
	return &t, nil
}
