// Package exception classifies what the matching tiers could not explain and
// tracks operator resolution of the resulting exceptions.
package exception

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/mapping"
	"invoice-reconciliation-engine/internal/services/matching"
	"invoice-reconciliation-engine/internal/services/names"
)

var (
	ErrNotPending        = errors.New("exception is not pending")
	ErrInvalidResolution = errors.New("resolution must be resolved or ignored")
)

// Reasoner is the external reasoning service used by Diagnose.
type Reasoner interface {
	Chat(ctx context.Context, system, user string, temperature float32) (string, error)
}

type Summary struct {
	Total      int                          `json:"total"`
	ByType     map[models.ExceptionType]int `json:"by_type"`
	BySeverity map[models.Severity]int      `json:"by_severity"`
}

func newSummary() Summary {
	return Summary{
		ByType:     make(map[models.ExceptionType]int),
		BySeverity: make(map[models.Severity]int),
	}
}

type Detector struct {
	cfg        Config
	banks      *repository.BankTransactionRepository
	invoices   *repository.InvoiceRepository
	matches    *repository.MatchRepository
	exceptions *repository.ExceptionRepository
	mappings   *mapping.Store
	reasoner   Reasoner
	log        logrus.FieldLogger
}

// NewDetector builds a detector. reasoner may be nil, which disables Diagnose.
func NewDetector(db *gorm.DB, mappings *mapping.Store, reasoner Reasoner, cfg Config, log logrus.FieldLogger) *Detector {
	return &Detector{
		cfg:        cfg,
		banks:      repository.NewBankTransactionRepository(db),
		invoices:   repository.NewInvoiceRepository(db),
		matches:    repository.NewMatchRepository(db),
		exceptions: repository.NewExceptionRepository(db),
		mappings:   mappings,
		reasoner:   reasoner,
		log:        log.WithField("component", "exception_detector"),
	}
}

func (d *Detector) List(ctx context.Context, batchID uuid.UUID, status string) ([]models.Exception, error) {
	return d.exceptions.ListByBatch(ctx, batchID, status)
}

type settledKey struct {
	kind    models.ExceptionType
	bank    uuid.UUID
	invoice uuid.UUID
}

func keyOf(exc *models.Exception) settledKey {
	k := settledKey{kind: exc.Type}
	if exc.RelatedBankID != nil {
		k.bank = *exc.RelatedBankID
	}
	if exc.RelatedInvoiceID != nil {
		k.invoice = *exc.RelatedInvoiceID
	}
	return k
}

// Detect replaces the batch's pending exceptions with a fresh classification
// of its current state. Exceptions an operator already settled are kept and
// not raised again.
func (d *Detector) Detect(ctx context.Context, batchID uuid.UUID) (Summary, error) {
	log := d.log.WithField("batch_id", batchID)
	summary := newSummary()

	cleared, err := d.exceptions.DeletePending(ctx, batchID)
	if err != nil {
		return summary, err
	}
	kept, err := d.exceptions.ListByBatch(ctx, batchID, "")
	if err != nil {
		return summary, err
	}
	settled := make(map[settledKey]bool, len(kept))
	for i := range kept {
		settled[keyOf(&kept[i])] = true
	}

	banks, err := d.banks.ListByBatch(ctx, batchID, "")
	if err != nil {
		return summary, err
	}
	invoices, err := d.invoices.ListByBatch(ctx, batchID, "")
	if err != nil {
		return summary, err
	}
	matches, err := d.matches.ListByBatch(ctx, batchID)
	if err != nil {
		return summary, err
	}
	ix, err := d.mappings.Index(ctx)
	if err != nil {
		return summary, err
	}

	var found []*models.Exception
	found = append(found, d.noInvoice(banks)...)
	found = append(found, d.noBankTxn(invoices)...)
	found = append(found, d.duplicates(banks)...)
	found = append(found, d.mismatches(matches)...)
	found = append(found, d.suspiciousProxies(matches, banks, invoices, ix)...)

	// creation times step by a microsecond so listing keeps detection order
	now := time.Now()
	for _, exc := range found {
		if settled[keyOf(exc)] {
			continue
		}
		exc.ID = uuid.New()
		exc.BatchID = batchID
		exc.Status = models.ExceptionPending
		exc.CreatedAt = now.Add(time.Duration(summary.Total) * time.Microsecond)
		if err := d.exceptions.Create(ctx, exc); err != nil {
			return summary, err
		}
		summary.Total++
		summary.ByType[exc.Type]++
		summary.BySeverity[exc.Severity]++
	}

	log.WithFields(logrus.Fields{
		"cleared": cleared,
		"raised":  summary.Total,
	}).Info("exception detection finished")
	return summary, nil
}

func (d *Detector) amountSeverity(amount decimal.Decimal) models.Severity {
	if amount.Abs().GreaterThan(decimal.NewFromFloat(d.cfg.MediumAmount)) {
		return models.SeverityMedium
	}
	return models.SeverityLow
}

func (d *Detector) noInvoice(banks []models.BankTransaction) []*models.Exception {
	var out []*models.Exception
	for i := range banks {
		tx := &banks[i]
		if !tx.IsPending() {
			continue
		}
		out = append(out, &models.Exception{
			Type:          models.ExceptionNoInvoice,
			Severity:      d.amountSeverity(tx.Amount),
			RelatedBankID: &tx.ID,
			Detail: d.detail(map[string]interface{}{
				"transactionDate": dateString(tx.TransactionDate),
				"payerName":       tx.PayerName,
				"amount":          tx.Amount,
				"remark":          tx.Remark,
			}),
			Suggestion: fmt.Sprintf("Payment of %s from %s has no invoice. Check whether an invoice must be issued or is missing from the import.",
				tx.Amount.StringFixed(2), tx.PayerName),
		})
	}
	return out
}

func (d *Detector) noBankTxn(invoices []models.Invoice) []*models.Exception {
	var out []*models.Exception
	for i := range invoices {
		inv := &invoices[i]
		if !inv.IsPending() {
			continue
		}
		out = append(out, &models.Exception{
			Type:             models.ExceptionNoBankTxn,
			Severity:         d.amountSeverity(inv.PayableAmount()),
			RelatedInvoiceID: &inv.ID,
			Detail: d.detail(map[string]interface{}{
				"invoiceCode":   inv.InvoiceCode,
				"invoiceNumber": inv.InvoiceNumber,
				"sellerName":    inv.SellerName,
				"buyerName":     inv.BuyerName,
				"amount":        inv.PayableAmount(),
				"invoiceDate":   dateString(inv.InvoiceDate),
			}),
			Suggestion: fmt.Sprintf("Invoice %s of %s has no matching bank payment. Confirm whether the money has arrived.",
				inv.InvoiceNumber, inv.PayableAmount().StringFixed(2)),
		})
	}
	return out
}

// duplicates flags a matched payment when an earlier matched payment of the
// same amount from the same or a near-identical payer falls within the window.
func (d *Detector) duplicates(banks []models.BankTransaction) []*models.Exception {
	byAmount := make(map[string][]*models.BankTransaction)
	var order []string
	for i := range banks {
		tx := &banks[i]
		if tx.Status != models.StatusMatched || tx.TransactionDate == nil {
			continue
		}
		key := tx.Amount.StringFixed(2)
		if _, ok := byAmount[key]; !ok {
			order = append(order, key)
		}
		byAmount[key] = append(byAmount[key], tx)
	}

	var out []*models.Exception
	for _, key := range order {
		group := byAmount[key]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].TransactionDate.Before(*group[j].TransactionDate)
		})
		for i := 1; i < len(group); i++ {
			curr := group[i]
			prev := d.previousSamePayer(group[:i], curr)
			if prev == nil {
				continue
			}
			days, _ := matching.DaysApart(curr.TransactionDate, prev.TransactionDate)
			if days > float64(d.cfg.DuplicateWindowDays) {
				continue
			}
			out = append(out, &models.Exception{
				Type:          models.ExceptionDuplicatePayment,
				Severity:      models.SeverityHigh,
				RelatedBankID: &curr.ID,
				Detail: d.detail(map[string]interface{}{
					"currentTx":  txSnapshot(curr),
					"previousTx": txSnapshot(prev),
					"daysDiff":   fmt.Sprintf("%.1f", days),
				}),
				Suggestion: fmt.Sprintf("%s paid %s twice within %.0f days. Check for a duplicate payment.",
					curr.PayerName, curr.Amount.StringFixed(2), days),
			})
		}
	}
	return out
}

func (d *Detector) previousSamePayer(earlier []*models.BankTransaction, curr *models.BankTransaction) *models.BankTransaction {
	for i := len(earlier) - 1; i >= 0; i-- {
		if names.Similarity(earlier[i].PayerName, curr.PayerName) >= d.cfg.DuplicateNameSimilarity {
			return earlier[i]
		}
	}
	return nil
}

func (d *Detector) mismatches(matches []models.MatchResult) []*models.Exception {
	threshold := decimal.NewFromFloat(d.cfg.MismatchThreshold)
	medium := decimal.NewFromFloat(d.cfg.MismatchMedium)
	high := decimal.NewFromFloat(d.cfg.MismatchHigh)

	var out []*models.Exception
	for i := range matches {
		m := &matches[i]
		diff := m.AmountDiff.Abs()
		if m.MatchType != models.MatchTolerance || !diff.GreaterThan(threshold) {
			continue
		}
		severity := models.SeverityLow
		switch {
		case diff.GreaterThan(high):
			severity = models.SeverityHigh
		case diff.GreaterThan(medium):
			severity = models.SeverityMedium
		}
		out = append(out, &models.Exception{
			Type:             models.ExceptionAmountMismatch,
			Severity:         severity,
			RelatedBankID:    &m.BankID,
			RelatedInvoiceID: &m.InvoiceID,
			Detail: d.detail(map[string]interface{}{
				"matchId":    m.ID,
				"matchType":  m.MatchType,
				"amountDiff": m.AmountDiff,
				"reason":     m.Reason,
			}),
			Suggestion: fmt.Sprintf("Matched amounts differ by %s, above the review threshold. Review the pairing manually.",
				diff.StringFixed(2)),
		})
	}
	return out
}

func (d *Detector) suspiciousProxies(matches []models.MatchResult, banks []models.BankTransaction, invoices []models.Invoice, ix *mapping.Index) []*models.Exception {
	bankByID := make(map[uuid.UUID]*models.BankTransaction, len(banks))
	for i := range banks {
		bankByID[banks[i].ID] = &banks[i]
	}
	invByID := make(map[uuid.UUID]*models.Invoice, len(invoices))
	for i := range invoices {
		invByID[invoices[i].ID] = &invoices[i]
	}

	var out []*models.Exception
	for i := range matches {
		m := &matches[i]
		guess, isProxy := proxyGuess(m, bankByID[m.BankID], invByID[m.InvoiceID])
		if !isProxy {
			continue
		}

		var reasons []string
		if m.Confidence < d.cfg.SuspiciousProxyConfidence {
			reasons = append(reasons, fmt.Sprintf("confidence %.2f is below %.2f", m.Confidence, d.cfg.SuspiciousProxyConfidence))
		}
		known := ix.Companies(guess.PersonName)
		switch {
		case len(known) > 1:
			reasons = append(reasons, fmt.Sprintf("%s is mapped to %d companies", guess.PersonName, len(known)))
		case len(known) == 1 && !names.Equal(known[0], guess.CompanyName):
			reasons = append(reasons, fmt.Sprintf("%s is mapped to %s, not %s", guess.PersonName, known[0], guess.CompanyName))
		}
		if len(reasons) == 0 {
			continue
		}

		out = append(out, &models.Exception{
			Type:             models.ExceptionSuspiciousProxy,
			Severity:         models.SeverityMedium,
			RelatedBankID:    &m.BankID,
			RelatedInvoiceID: &m.InvoiceID,
			Detail: d.detail(map[string]interface{}{
				"matchId":        m.ID,
				"matchType":      m.MatchType,
				"payerName":      guess.PersonName,
				"companyName":    guess.CompanyName,
				"confidence":     m.Confidence,
				"reasons":        reasons,
				"knownCompanies": known,
			}),
			Suggestion: fmt.Sprintf("Confirm that %s really pays on behalf of %s: %s.",
				guess.PersonName, guess.CompanyName, strings.Join(reasons, "; ")),
		})
	}
	return out
}

// proxyGuess extracts the person/company pair of a proxy match. Matches that
// carry no stored pair fall back to the payer and the invoice seller.
func proxyGuess(m *models.MatchResult, bank *models.BankTransaction, inv *models.Invoice) (models.ProxyGuess, bool) {
	var g models.ProxyGuess
	if len(m.ProxyMapping) > 0 {
		if err := json.Unmarshal(m.ProxyMapping, &g); err == nil && g.PersonName != "" && g.CompanyName != "" {
			return g, true
		}
	}
	if m.MatchType != models.MatchProxy || bank == nil || inv == nil {
		return g, false
	}
	return models.ProxyGuess{PersonName: bank.PayerName, CompanyName: inv.SellerName}, true
}

func txSnapshot(tx *models.BankTransaction) map[string]interface{} {
	return map[string]interface{}{
		"id":     tx.ID,
		"date":   dateString(tx.TransactionDate),
		"amount": tx.Amount,
		"payer":  tx.PayerName,
	}
}

// detail encodes an exception payload. An unencodable payload is logged and
// stored as an empty object so the exception itself is still raised.
func (d *Detector) detail(v map[string]interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		d.log.WithError(err).Warn("could not encode exception detail")
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
