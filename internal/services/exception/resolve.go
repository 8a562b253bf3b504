package exception

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-reconciliation-engine/internal/models"
)

// Resolve settles a pending exception as resolved or ignored and writes an
// audit row. Settling twice returns ErrNotPending.
func (d *Detector) Resolve(ctx context.Context, id uuid.UUID, status, note, by string) (*models.Exception, error) {
	action := ""
	switch status {
	case models.ExceptionResolved:
		action = models.AuditResolveException
	case models.ExceptionIgnored:
		action = models.AuditIgnoreException
	default:
		return nil, ErrInvalidResolution
	}

	exc, err := d.exceptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exc.Status != models.ExceptionPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	exc.Status = status
	exc.Resolution = strings.TrimSpace(note)
	exc.ResolvedAt = &now

	audit := &models.MatchAuditLog{
		ID:          uuid.New(),
		BatchID:     exc.BatchID,
		ExceptionID: &exc.ID,
		Action:      action,
		PerformedBy: by,
		Reason:      exc.Resolution,
		CreatedAt:   now,
	}
	ok, err := d.exceptions.Settle(ctx, exc, audit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPending
	}

	d.log.WithFields(logrus.Fields{"exception_id": exc.ID, "status": status}).Info("exception settled")
	return exc, nil
}
