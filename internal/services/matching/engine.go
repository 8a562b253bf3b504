// Package matching is the rule tier of the reconciliation funnel: perfect,
// tolerance and proxy passes over a batch's pending records.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/mapping"
	"invoice-reconciliation-engine/internal/services/names"
	"invoice-reconciliation-engine/internal/services/task"
)

type Stats struct {
	Perfect          int           `json:"perfect"`
	Tolerance        int           `json:"tolerance"`
	Proxy            int           `json:"proxy"`
	RemainingBank    int           `json:"remaining_bank"`
	RemainingInvoice int           `json:"remaining_invoice"`
	Duration         time.Duration `json:"duration"`
	Stopped          bool          `json:"stopped"`
}

func (s Stats) Matched() int {
	return s.Perfect + s.Tolerance + s.Proxy
}

type Matcher struct {
	cfg      Config
	banks    *repository.BankTransactionRepository
	invoices *repository.InvoiceRepository
	matches  *repository.MatchRepository
	mappings *mapping.Store
	log      logrus.FieldLogger
}

func NewMatcher(db *gorm.DB, mappings *mapping.Store, cfg Config, log logrus.FieldLogger) *Matcher {
	return &Matcher{
		cfg:      cfg,
		banks:    repository.NewBankTransactionRepository(db),
		invoices: repository.NewInvoiceRepository(db),
		matches:  repository.NewMatchRepository(db),
		mappings: mappings,
		log:      log.WithField("component", "rule_matcher"),
	}
}

// candidate is one invoice a pass would accept for the bank row at hand.
type candidate struct {
	inv     *models.Invoice
	diff    decimal.Decimal // bank amount minus payable
	days    float64
	dated   bool
	mapping *models.PayerMapping
}

type pass struct {
	kind   models.MatchType
	byDiff bool
	accept func(bank *models.BankTransaction, inv *models.Invoice, ix *mapping.Index) (*candidate, bool)
	result func(bank *models.BankTransaction, c *candidate) (*models.MatchResult, error)
}

// Run executes the three passes in order. Each pass re-reads the pending
// rows, so it only sees what earlier passes left behind.
func (m *Matcher) Run(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc) (Stats, error) {
	start := time.Now()
	log := m.log.WithField("batch_id", batchID)
	var stats Stats

	ix, err := m.mappings.Index(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "load payer mappings")
	}

	counters := map[models.MatchType]*int{
		models.MatchPerfect:   &stats.Perfect,
		models.MatchTolerance: &stats.Tolerance,
		models.MatchProxy:     &stats.Proxy,
	}
	for _, p := range m.passes() {
		n, stopped, err := m.runPass(ctx, batchID, p, ix, token, progress)
		*counters[p.kind] += n
		if err != nil {
			return stats, errors.Wrapf(err, "%s pass", p.kind)
		}
		log.WithFields(logrus.Fields{"pass": p.kind, "matched": n}).Info("rule pass finished")
		if stopped {
			stats.Stopped = true
			log.Info("rule matching stopped on request")
			break
		}
	}

	banks, err := m.banks.CountByStatus(ctx, batchID)
	if err != nil {
		return stats, err
	}
	invoices, err := m.invoices.CountByStatus(ctx, batchID)
	if err != nil {
		return stats, err
	}
	stats.RemainingBank = int(banks[models.StatusPending])
	stats.RemainingInvoice = int(invoices[models.StatusPending])
	stats.Duration = time.Since(start)
	return stats, nil
}

func (m *Matcher) runPass(ctx context.Context, batchID uuid.UUID, p pass, ix *mapping.Index, token *task.Token, progress task.ProgressFunc) (int, bool, error) {
	banks, err := m.banks.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return 0, false, err
	}
	invoices, err := m.invoices.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return 0, false, err
	}
	if len(banks) == 0 || len(invoices) == 0 {
		return 0, false, nil
	}

	progress.Report(0, len(banks), fmt.Sprintf("%s pass started", p.kind))
	taken := make(map[uuid.UUID]bool)
	matched := 0
	for i := range banks {
		if token.Stopped() {
			return matched, true, nil
		}
		if err := ctx.Err(); err != nil {
			return matched, false, err
		}

		bank := &banks[i]
		if best := m.pick(p, bank, invoices, taken, ix); best != nil {
			res, err := p.result(bank, best)
			if err != nil {
				return matched, false, err
			}
			res.BatchID = batchID
			err = m.matches.Claim(ctx, res)
			switch {
			case errors.Is(err, repository.ErrAlreadyClaimed):
				m.log.WithFields(logrus.Fields{"bank_id": bank.ID, "invoice_id": best.inv.ID}).
					Debug("record already matched, skipping")
			case err != nil:
				return matched, false, err
			default:
				taken[best.inv.ID] = true
				matched++
			}
		}

		if done := i + 1; done%m.cfg.ProgressEvery == 0 || done == len(banks) {
			progress.Report(done, len(banks), fmt.Sprintf("%s pass %d/%d", p.kind, done, len(banks)))
		}
	}
	return matched, false, nil
}

func (m *Matcher) pick(p pass, bank *models.BankTransaction, invoices []models.Invoice, taken map[uuid.UUID]bool, ix *mapping.Index) *candidate {
	var found []*candidate
	for i := range invoices {
		inv := &invoices[i]
		if taken[inv.ID] {
			continue
		}
		if c, ok := p.accept(bank, inv, ix); ok {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if p.byDiff {
			if cmp := a.diff.Abs().Cmp(b.diff.Abs()); cmp != 0 {
				return cmp < 0
			}
		}
		if a.dated != b.dated {
			return a.dated
		}
		if a.days != b.days {
			return a.days < b.days
		}
		if !a.inv.CreatedAt.Equal(b.inv.CreatedAt) {
			return a.inv.CreatedAt.Before(b.inv.CreatedAt)
		}
		return a.inv.ID.String() < b.inv.ID.String()
	})
	return found[0]
}

func (m *Matcher) passes() []pass {
	epsilon := decimal.NewFromFloat(m.cfg.PerfectEpsilon)
	negligible := decimal.NewFromFloat(m.cfg.NegligibleDiff)

	perfect := pass{
		kind: models.MatchPerfect,
		accept: func(bank *models.BankTransaction, inv *models.Invoice, ix *mapping.Index) (*candidate, bool) {
			c := newCandidate(bank, inv)
			if c.diff.Abs().GreaterThan(epsilon) {
				return nil, false
			}
			return c, m.sameParty(bank, inv, ix, c)
		},
		result: func(bank *models.BankTransaction, c *candidate) (*models.MatchResult, error) {
			reason := "amount and counterparty match exactly"
			if c.mapping != nil {
				reason = fmt.Sprintf("amount matches; payer account is registered to %s", c.mapping.CompanyName)
			}
			return &models.MatchResult{
				BankID:     bank.ID,
				InvoiceID:  c.inv.ID,
				MatchType:  models.MatchPerfect,
				Confidence: 1.0,
				Reason:     reason,
				AmountDiff: c.diff,
				Confirmed:  true,
			}, nil
		},
	}

	tolerance := pass{
		kind:   models.MatchTolerance,
		byDiff: true,
		accept: func(bank *models.BankTransaction, inv *models.Invoice, ix *mapping.Index) (*candidate, bool) {
			c := newCandidate(bank, inv)
			d := c.diff.Abs()
			if d.LessThanOrEqual(epsilon) || d.GreaterThan(band(m.cfg.ToleranceAbsolute, m.cfg.TolerancePercent, inv.PayableAmount())) {
				return nil, false
			}
			return c, m.sameParty(bank, inv, ix, c)
		},
		result: func(bank *models.BankTransaction, c *candidate) (*models.MatchResult, error) {
			needs := c.diff.Abs().GreaterThan(negligible)
			return &models.MatchResult{
				BankID:            bank.ID,
				InvoiceID:         c.inv.ID,
				MatchType:         models.MatchTolerance,
				Confidence:        m.cfg.ToleranceConfidence,
				Reason:            fmt.Sprintf("amount differs by %s, within fee tolerance", c.diff.Abs().StringFixed(2)),
				AmountDiff:        c.diff,
				NeedsConfirmation: needs,
				Confirmed:         !needs,
			}, nil
		},
	}

	proxy := pass{
		kind:   models.MatchProxy,
		byDiff: true,
		accept: func(bank *models.BankTransaction, inv *models.Invoice, ix *mapping.Index) (*candidate, bool) {
			if !ix.Has(bank.PayerName) || textualParty(bank, inv) {
				return nil, false
			}
			link, ok := ix.Links(bank.PayerName, inv.SellerName, inv.BuyerName)
			if !ok {
				return nil, false
			}
			c := newCandidate(bank, inv)
			if c.diff.Abs().GreaterThan(band(m.cfg.ProxyAbsolute, m.cfg.ProxyPercent, inv.PayableAmount())) {
				return nil, false
			}
			if c.dated && c.days > float64(m.cfg.ProxyDateWindowDays) {
				return nil, false
			}
			c.mapping = link
			return c, true
		},
		result: func(bank *models.BankTransaction, c *candidate) (*models.MatchResult, error) {
			reason := fmt.Sprintf("proxy payment: %s pays on behalf of %s", bank.PayerName, c.mapping.CompanyName)
			if c.mapping.Remark != "" {
				reason += " (" + c.mapping.Remark + ")"
			}
			guess, err := json.Marshal(models.ProxyGuess{PersonName: c.mapping.PersonName, CompanyName: c.mapping.CompanyName})
			if err != nil {
				return nil, errors.Wrap(err, "encode proxy mapping")
			}
			return &models.MatchResult{
				BankID:            bank.ID,
				InvoiceID:         c.inv.ID,
				MatchType:         models.MatchProxy,
				Confidence:        m.cfg.ProxyConfidence,
				Reason:            reason,
				AmountDiff:        c.diff,
				NeedsConfirmation: true,
				ProxyMapping:      guess,
			}, nil
		},
	}

	return []pass{perfect, tolerance, proxy}
}

func newCandidate(bank *models.BankTransaction, inv *models.Invoice) *candidate {
	c := &candidate{inv: inv, diff: bank.Amount.Sub(inv.PayableAmount())}
	c.days, c.dated = DaysApart(bank.TransactionDate, inv.InvoiceDate)
	return c
}

// sameParty reports whether the payer is the invoice counterparty, either by
// name or by a mapping whose account suffix matches the paying account.
func (m *Matcher) sameParty(bank *models.BankTransaction, inv *models.Invoice, ix *mapping.Index, c *candidate) bool {
	if textualParty(bank, inv) {
		return true
	}
	account := strings.TrimSpace(bank.PayerAccount)
	if account == "" {
		return false
	}
	for _, company := range []string{inv.SellerName, inv.BuyerName} {
		if names.Normalize(company) == "" {
			continue
		}
		link := ix.Find(bank.PayerName, company)
		if link != nil && link.AccountSuffix != "" && strings.HasSuffix(account, link.AccountSuffix) {
			c.mapping = link
			return true
		}
	}
	return false
}

func textualParty(bank *models.BankTransaction, inv *models.Invoice) bool {
	return names.Equal(bank.PayerName, inv.SellerName) || names.Equal(bank.PayerName, inv.BuyerName)
}

// band is the larger of an absolute allowance and a share of the amount.
func band(absolute, percent float64, amount decimal.Decimal) decimal.Decimal {
	abs := decimal.NewFromFloat(absolute)
	rel := amount.Abs().Mul(decimal.NewFromFloat(percent))
	return decimal.Max(abs, rel)
}

// DaysApart returns the absolute distance in days between two optional dates.
// The bool is false when either date is unknown.
func DaysApart(a, b *time.Time) (float64, bool) {
	if a == nil || b == nil || a.IsZero() || b.IsZero() {
		return 0, false
	}
	return math.Abs(a.Sub(*b).Hours()) / 24, true
}
