package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Batch stages, in the order a run moves through them.
const (
	StageIdle               = "idle"
	StageRuleMatching       = "rule_matching"
	StageAIMatching         = "ai_matching"
	StageExceptionDetection = "exception_detection"
	StageCompleted          = "completed"
	StageUnbalanced         = "unbalanced"
	StageStopped            = "stopped"
	StageFailed             = "failed"
)

type ReconciliationBatch struct {
	ID                uuid.UUID      `gorm:"size:36;primaryKey" json:"id"`
	Name              string         `json:"name"`
	Status            string         `gorm:"size:32" json:"status"`
	TotalBankCount    int            `json:"total_bank_count"`
	TotalInvoiceCount int            `json:"total_invoice_count"`
	MatchedCount      int            `json:"matched_count"`
	UnmatchedCount    int            `json:"unmatched_count"`
	ExceptionCount    int            `json:"exception_count"`
	Stats             datatypes.JSON `json:"stats,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
