package semantic

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/models"
)

// itemVerdict is the reply schema of a per-transaction call.
type itemVerdict struct {
	MatchFound    bool               `json:"matchFound"`
	CandidateID   string             `json:"candidateId"`
	Confidence    float64            `json:"confidence"`
	Reason        string             `json:"reason"`
	IsHandlingFee bool               `json:"isHandlingFee"`
	IsProxy       bool               `json:"isProxy"`
	ProxyMapping  *models.ProxyGuess `json:"proxyMapping"`
}

func (v itemVerdict) validate() error {
	if !v.MatchFound {
		return nil
	}
	if _, err := uuid.Parse(strings.TrimSpace(v.CandidateID)); err != nil {
		return errors.Errorf("candidateId %q is not an id", v.CandidateID)
	}
	return checkConfidence(v.Confidence)
}

// globalVerdict is the reply schema of the whole-batch call.
type globalVerdict struct {
	Matches []proposal `json:"matches"`
}

type proposal struct {
	BankID        string             `json:"bankId"`
	InvoiceID     string             `json:"invoiceId"`
	Confidence    float64            `json:"confidence"`
	Reason        string             `json:"reason"`
	IsHandlingFee bool               `json:"isHandlingFee"`
	IsProxy       bool               `json:"isProxy"`
	ProxyMapping  *models.ProxyGuess `json:"proxyMapping"`
}

func (p proposal) ids() (uuid.UUID, uuid.UUID, error) {
	bankID, err := uuid.Parse(strings.TrimSpace(p.BankID))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.Errorf("bankId %q is not an id", p.BankID)
	}
	invoiceID, err := uuid.Parse(strings.TrimSpace(p.InvoiceID))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.Errorf("invoiceId %q is not an id", p.InvoiceID)
	}
	return bankID, invoiceID, checkConfidence(p.Confidence)
}

func checkConfidence(c float64) error {
	if c < 0 || c > 1 {
		return errors.Errorf("confidence %v out of range", c)
	}
	return nil
}

// decision is an accepted verdict, whichever phase produced it.
type decision struct {
	confidence    float64
	reason        string
	isHandlingFee bool
	isProxy       bool
	guess         *models.ProxyGuess
}

func (d decision) matchType() models.MatchType {
	switch {
	case d.isHandlingFee:
		return models.MatchTolerance
	case d.isProxy:
		return models.MatchProxy
	}
	return models.MatchAI
}
