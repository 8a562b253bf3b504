package models

// Record status for bank transactions and invoices.
const (
	StatusPending = "pending"
	StatusMatched = "matched"
)

type MatchType string

const (
	MatchPerfect   MatchType = "perfect"
	MatchTolerance MatchType = "tolerance"
	MatchProxy     MatchType = "proxy"
	MatchAI        MatchType = "ai"
)

type MappingSource string

const (
	SourceManual      MappingSource = "manual"
	SourceImported    MappingSource = "imported"
	SourceQuickAdd    MappingSource = "quick_add"
	SourceAIExtracted MappingSource = "ai_extracted"
)

func (s MappingSource) Valid() bool {
	switch s {
	case SourceManual, SourceImported, SourceQuickAdd, SourceAIExtracted:
		return true
	}
	return false
}
