package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExceptionType string

const (
	ExceptionNoInvoice        ExceptionType = "NO_INVOICE"
	ExceptionNoBankTxn        ExceptionType = "NO_BANK_TXN"
	ExceptionDuplicatePayment ExceptionType = "DUPLICATE_PAYMENT"
	ExceptionAmountMismatch   ExceptionType = "AMOUNT_MISMATCH"
	ExceptionSuspiciousProxy  ExceptionType = "SUSPICIOUS_PROXY"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

const (
	ExceptionPending  = "pending"
	ExceptionResolved = "resolved"
	ExceptionIgnored  = "ignored"
)

type Exception struct {
	ID               uuid.UUID      `gorm:"size:36;primaryKey" json:"id"`
	BatchID          uuid.UUID      `gorm:"size:36;index" json:"batch_id"`
	Type             ExceptionType  `gorm:"size:32;index" json:"type"`
	Severity         Severity       `gorm:"size:8" json:"severity"`
	RelatedBankID    *uuid.UUID     `gorm:"size:36" json:"related_bank_id,omitempty"`
	RelatedInvoiceID *uuid.UUID     `gorm:"size:36" json:"related_invoice_id,omitempty"`
	Detail           datatypes.JSON `json:"detail"`
	Suggestion       string         `json:"suggestion"`
	Status           string         `gorm:"size:16;index" json:"status"`
	Resolution       string         `json:"resolution,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}
