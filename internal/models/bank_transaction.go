package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BankTransaction struct {
	ID              uuid.UUID        `gorm:"size:36;primaryKey" json:"id"`
	BatchID         uuid.UUID        `gorm:"size:36;index" json:"batch_id"`
	TransactionDate *time.Time       `gorm:"column:transaction_date" json:"transaction_date"`
	PayerName       string           `gorm:"index" json:"payer_name"`
	PayerAccount    string           `json:"payer_account"`
	Amount          decimal.Decimal  `gorm:"type:decimal(18,2)" json:"amount"`
	Balance         *decimal.Decimal `gorm:"type:decimal(18,2)" json:"balance,omitempty"`
	Remark          string           `json:"remark"`
	TransactionNo   string           `json:"transaction_no"`
	Status          string           `gorm:"size:16;index" json:"status"`
	MatchID         *uuid.UUID       `gorm:"size:36" json:"match_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (t *BankTransaction) IsPending() bool {
	return t.Status == StatusPending
}
