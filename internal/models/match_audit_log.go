package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditConfirmMatch     = "confirm_match"
	AuditResolveException = "resolve_exception"
	AuditIgnoreException  = "ignore_exception"
)

type MatchAuditLog struct {
	ID          uuid.UUID  `gorm:"size:36;primaryKey"`
	BatchID     uuid.UUID  `gorm:"size:36;index"`
	MatchID     *uuid.UUID `gorm:"size:36;index"`
	ExceptionID *uuid.UUID `gorm:"size:36;index"`
	Action      string
	PerformedBy string
	Reason      string
	CreatedAt   time.Time
}

// All lists every table the engine migrates.
func All() []interface{} {
	return []interface{}{
		&ReconciliationBatch{},
		&BankTransaction{},
		&Invoice{},
		&PayerMapping{},
		&MatchResult{},
		&Exception{},
		&MatchAuditLog{},
	}
}
