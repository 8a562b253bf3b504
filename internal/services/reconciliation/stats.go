package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
)

type SideStats struct {
	Total        int64           `json:"total"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	MatchedCount int64           `json:"matched_count"`
	MatchedSum   decimal.Decimal `json:"matched_sum"`
	PendingCount int64           `json:"pending_count"`
	PendingSum   decimal.Decimal `json:"pending_sum"`
}

type BatchStats struct {
	Bank          SideStats                  `json:"bank"`
	Invoice       SideStats                  `json:"invoice"`
	MatchesByType map[models.MatchType]int64 `json:"matches_by_type"`
	Exceptions    map[string]int             `json:"exceptions"`
}

func sideStats(rows []repository.StatusTotal) SideStats {
	var s SideStats
	for _, r := range rows {
		s.Total += r.Count
		s.TotalAmount = s.TotalAmount.Add(r.Sum)
		switch r.Status {
		case models.StatusMatched:
			s.MatchedCount = r.Count
			s.MatchedSum = r.Sum
		case models.StatusPending:
			s.PendingCount = r.Count
			s.PendingSum = r.Sum
		}
	}
	return s
}

// Stats summarises a batch's amounts by status, its matches by type and its
// exceptions by status.
func (s *Service) Stats(ctx context.Context, batchID uuid.UUID) (BatchStats, error) {
	var out BatchStats
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return out, err
	}
	banks, err := s.banks.TotalsByStatus(ctx, batchID)
	if err != nil {
		return out, err
	}
	invoices, err := s.invoices.TotalsByStatus(ctx, batchID)
	if err != nil {
		return out, err
	}
	byType, err := s.matches.CountByType(ctx, batchID)
	if err != nil {
		return out, err
	}
	exceptions, err := s.detector.List(ctx, batchID, "")
	if err != nil {
		return out, err
	}

	out.Bank = sideStats(banks)
	out.Invoice = sideStats(invoices)
	out.MatchesByType = byType
	out.Exceptions = make(map[string]int)
	for _, exc := range exceptions {
		out.Exceptions[exc.Status]++
	}
	return out, nil
}
