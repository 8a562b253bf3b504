package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type MatchResult struct {
	ID                uuid.UUID       `gorm:"size:36;primaryKey" json:"id"`
	BatchID           uuid.UUID       `gorm:"size:36;index" json:"batch_id"`
	BankID            uuid.UUID       `gorm:"size:36;uniqueIndex" json:"bank_id"`
	InvoiceID         uuid.UUID       `gorm:"size:36;uniqueIndex" json:"invoice_id"`
	MatchType         MatchType       `gorm:"size:16;index" json:"match_type"`
	Confidence        float64         `json:"confidence"`
	Reason            string          `json:"reason"`
	AmountDiff        decimal.Decimal `gorm:"type:decimal(18,2)" json:"amount_diff"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	Confirmed         bool            `json:"confirmed"`
	ProxyMapping      datatypes.JSON  `json:"proxy_mapping,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ProxyGuess is the serialized person/company pair attached to proxy matches.
type ProxyGuess struct {
	PersonName  string `json:"personName"`
	CompanyName string `json:"companyName"`
}
