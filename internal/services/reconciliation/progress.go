package reconciliation

import (
	"context"

	"github.com/google/uuid"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/task"
)

type ProgressEvent struct {
	Stage      string      `json:"stage"`
	Current    int         `json:"current"`
	Total      int         `json:"total"`
	Percentage float64     `json:"percentage"`
	Message    string      `json:"message"`
	Stats      interface{} `json:"stats,omitempty"`
}

type ProgressFunc func(ProgressEvent)

func (s *Service) emit(batchID uuid.UUID, progress ProgressFunc, ev ProgressEvent) {
	s.progressCache.Store(batchID, ev)
	if progress != nil {
		progress(ev)
	}
}

// reporter adapts a tier's counter callback to stage events.
func (s *Service) reporter(batchID uuid.UUID, stage string, progress ProgressFunc) task.ProgressFunc {
	return func(current, total int, message string) {
		ev := ProgressEvent{Stage: stage, Current: current, Total: total, Message: message}
		if total > 0 {
			ev.Percentage = float64(current) * 100 / float64(total)
		}
		s.emit(batchID, progress, ev)
	}
}

// Progress returns the latest event of a batch. Batches with no run in this
// process fall back to the persisted batch record.
func (s *Service) Progress(ctx context.Context, batchID uuid.UUID) (ProgressEvent, error) {
	if val, ok := s.progressCache.Load(batchID); ok {
		return val.(ProgressEvent), nil
	}
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return ProgressEvent{}, err
	}
	ev := ProgressEvent{
		Stage:   batch.Status,
		Current: batch.MatchedCount,
		Total:   batch.MatchedCount + batch.UnmatchedCount,
	}
	switch batch.Status {
	case models.StageCompleted, models.StageUnbalanced, models.StageStopped:
		ev.Percentage = 100
	}
	return ev, nil
}
