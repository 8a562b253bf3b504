package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Invoice struct {
	ID              uuid.UUID       `gorm:"size:36;primaryKey" json:"id"`
	BatchID         uuid.UUID       `gorm:"size:36;index" json:"batch_id"`
	InvoiceCode     string          `json:"invoice_code"`
	InvoiceNumber   string          `gorm:"index" json:"invoice_number"`
	SellerName      string          `gorm:"index" json:"seller_name"`
	BuyerName       string          `json:"buyer_name"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2)" json:"amount"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(18,2)" json:"tax_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(18,2)" json:"total_amount"`
	TaxRate         string          `json:"tax_rate"`
	InvoiceDate     *time.Time      `json:"invoice_date"`
	ItemDescription string          `json:"item_description"`
	Remark          string          `json:"remark"`
	Status          string          `gorm:"size:16;index" json:"status"`
	MatchID         *uuid.UUID      `gorm:"size:36" json:"match_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PayableAmount is the amount a bank payment is expected to settle:
// the tax-inclusive total when present, otherwise the net amount.
func (i *Invoice) PayableAmount() decimal.Decimal {
	if !i.TotalAmount.IsZero() {
		return i.TotalAmount
	}
	return i.Amount
}

func (i *Invoice) IsPending() bool {
	return i.Status == StatusPending
}
