// Package semantic is the AI tier of the reconciliation funnel. It asks an
// external reasoning service to pair whatever the rule tier left pending.
package semantic

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
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/llm"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/mapping"
	"invoice-reconciliation-engine/internal/services/matching"
	"invoice-reconciliation-engine/internal/services/task"
)

// Reasoner is the external reasoning service. llm.Client satisfies it.
type Reasoner interface {
	Chat(ctx context.Context, system, user string, temperature float32) (string, error)
}

type Stats struct {
	PerItem          int           `json:"per_item"`
	Global           int           `json:"global"`
	Calls            int           `json:"calls"`
	ParseFailures    int           `json:"parse_failures"`
	MappingsLearned  int           `json:"mappings_learned"`
	RemainingBank    int           `json:"remaining_bank"`
	RemainingInvoice int           `json:"remaining_invoice"`
	Duration         time.Duration `json:"duration"`
	Stopped          bool          `json:"stopped"`
}

func (s Stats) Matched() int {
	return s.PerItem + s.Global
}

type Matcher struct {
	cfg      Config
	reasoner Reasoner
	banks    *repository.BankTransactionRepository
	invoices *repository.InvoiceRepository
	matches  *repository.MatchRepository
	mappings *mapping.Store
	log      logrus.FieldLogger
}

func NewMatcher(db *gorm.DB, reasoner Reasoner, mappings *mapping.Store, cfg Config, log logrus.FieldLogger) *Matcher {
	return &Matcher{
		cfg:      cfg,
		reasoner: reasoner,
		banks:    repository.NewBankTransactionRepository(db),
		invoices: repository.NewInvoiceRepository(db),
		matches:  repository.NewMatchRepository(db),
		mappings: mappings,
		log:      log.WithField("component", "semantic_matcher"),
	}
}

// Run executes the per-transaction phase and then, when enabled and both
// sides still have pending rows, the global phase. A transport failure ends
// the tier with an error; matches committed before it stay.
func (m *Matcher) Run(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc) (Stats, error) {
	start := time.Now()
	var stats Stats

	err := m.perItem(ctx, batchID, token, progress, &stats)
	if err == nil && !stats.Stopped && m.cfg.GlobalPass {
		err = m.global(ctx, batchID, token, &stats)
	}
	if cerr := m.countRemaining(ctx, batchID, &stats); cerr != nil && err == nil {
		err = cerr
	}
	stats.Duration = time.Since(start)
	return stats, err
}

func (m *Matcher) perItem(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc, stats *Stats) error {
	log := m.log.WithField("batch_id", batchID)
	banks, err := m.banks.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return err
	}
	invoices, err := m.invoices.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return err
	}
	if len(banks) == 0 || len(invoices) == 0 {
		return nil
	}

	pool := make([]*models.Invoice, 0, len(invoices))
	for i := range invoices {
		pool = append(pool, &invoices[i])
	}
	pending := make(map[uuid.UUID]*models.Invoice, len(pool))
	for _, inv := range pool {
		pending[inv.ID] = inv
	}

	progress.Report(0, len(banks), "semantic matching started")
	for i := range banks {
		if token.Stopped() {
			stats.Stopped = true
			log.Info("semantic matching stopped on request")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		bank := &banks[i]
		if err := m.matchOne(ctx, batchID, bank, pool, pending, stats); err != nil {
			return errors.Wrapf(err, "semantic match of transaction %s", bank.ID)
		}

		if done := i + 1; done%m.cfg.ProgressEvery == 0 || done == len(banks) {
			progress.Report(done, len(banks), fmt.Sprintf("semantic matching %d/%d", done, len(banks)))
		}
	}
	log.WithFields(logrus.Fields{"matched": stats.PerItem, "calls": stats.Calls}).Info("per-transaction phase finished")
	return nil
}

// matchOne returns an error only for transport failures. Parse failures and
// rejected verdicts leave the transaction pending.
func (m *Matcher) matchOne(ctx context.Context, batchID uuid.UUID, bank *models.BankTransaction, pool []*models.Invoice, pending map[uuid.UUID]*models.Invoice, stats *Stats) error {
	candidates := m.candidates(bank, pool, pending)
	if len(candidates) == 0 {
		return nil
	}

	prompt, err := buildItemPrompt(bank, candidates)
	if err != nil {
		return err
	}
	stats.Calls++
	reply, err := m.reasoner.Chat(ctx, systemPrompt, prompt, float32(m.cfg.Temperature))
	if err != nil {
		return err
	}

	log := m.log.WithFields(logrus.Fields{"batch_id": batchID, "bank_id": bank.ID})
	var v itemVerdict
	if err := llm.Decode(reply, &v); err == nil {
		err = v.validate()
	}
	if err != nil {
		stats.ParseFailures++
		log.WithError(err).Warn("unusable reasoning reply, treating as no match")
		return nil
	}
	if !v.MatchFound {
		return nil
	}

	id := uuid.MustParse(strings.TrimSpace(v.CandidateID))
	inv := offered(candidates, id)
	switch {
	case inv == nil:
		log.WithField("candidate_id", id).Warn("reply names an invoice that was not offered")
		return nil
	case pending[id] == nil:
		return nil
	case v.Confidence <= m.cfg.PerItemMinConfidence:
		log.WithField("confidence", v.Confidence).Debug("verdict below confidence gate")
		return nil
	}

	ok, err := m.commit(ctx, batchID, bank, inv, decision{
		confidence:    v.Confidence,
		reason:        v.Reason,
		isHandlingFee: v.IsHandlingFee,
		isProxy:       v.IsProxy,
		guess:         v.ProxyMapping,
	}, stats)
	if err != nil {
		return err
	}
	if ok {
		delete(pending, id)
		stats.PerItem++
		return nil
	}
	// the claim lost a race; stop offering the invoice if it is gone
	if cur, err := m.invoices.GetByID(ctx, id); err != nil || !cur.IsPending() {
		delete(pending, id)
	}
	return nil
}

// candidates keeps pending invoices within the amount band and date window,
// closest amount first, then closest date.
func (m *Matcher) candidates(bank *models.BankTransaction, pool []*models.Invoice, pending map[uuid.UUID]*models.Invoice) []*models.Invoice {
	limit := bank.Amount.Abs().Mul(decimal.NewFromFloat(m.cfg.AmountBandRatio))
	type ranked struct {
		inv  *models.Invoice
		diff decimal.Decimal
		days float64
	}
	var found []ranked
	for _, inv := range pool {
		if pending[inv.ID] == nil {
			continue
		}
		diff := inv.PayableAmount().Sub(bank.Amount).Abs()
		if diff.GreaterThan(limit) {
			continue
		}
		days, dated := matching.DaysApart(bank.TransactionDate, inv.InvoiceDate)
		if dated && days > float64(m.cfg.DateWindowDays) {
			continue
		}
		found = append(found, ranked{inv: inv, diff: diff, days: days})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if c := found[i].diff.Cmp(found[j].diff); c != 0 {
			return c < 0
		}
		return found[i].days < found[j].days
	})
	if len(found) > m.cfg.MaxCandidates {
		found = found[:m.cfg.MaxCandidates]
	}
	out := make([]*models.Invoice, len(found))
	for i, r := range found {
		out[i] = r.inv
	}
	return out
}

func offered(candidates []*models.Invoice, id uuid.UUID) *models.Invoice {
	for _, inv := range candidates {
		if inv.ID == id {
			return inv
		}
	}
	return nil
}

func (m *Matcher) global(ctx context.Context, batchID uuid.UUID, token *task.Token, stats *Stats) error {
	log := m.log.WithField("batch_id", batchID)
	banks, err := m.banks.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return err
	}
	invoices, err := m.invoices.ListByBatch(ctx, batchID, models.StatusPending)
	if err != nil {
		return err
	}
	if len(banks) == 0 || len(invoices) == 0 {
		return nil
	}
	if len(banks) > m.cfg.MaxGlobalRecords {
		log.WithField("dropped", len(banks)-m.cfg.MaxGlobalRecords).Warn("global phase truncated bank transactions")
		banks = banks[:m.cfg.MaxGlobalRecords]
	}
	if len(invoices) > m.cfg.MaxGlobalRecords {
		log.WithField("dropped", len(invoices)-m.cfg.MaxGlobalRecords).Warn("global phase truncated invoices")
		invoices = invoices[:m.cfg.MaxGlobalRecords]
	}
	if token.Stopped() {
		stats.Stopped = true
		return nil
	}

	prompt, err := buildGlobalPrompt(banks, invoices)
	if err != nil {
		return err
	}
	stats.Calls++
	reply, err := m.reasoner.Chat(ctx, systemPrompt, prompt, float32(m.cfg.Temperature))
	if err != nil {
		return errors.Wrap(err, "global semantic match")
	}

	var v globalVerdict
	if err := llm.Decode(reply, &v); err != nil {
		stats.ParseFailures++
		log.WithError(err).Warn("unusable global reasoning reply")
		return nil
	}

	bankByID := make(map[uuid.UUID]*models.BankTransaction, len(banks))
	for i := range banks {
		bankByID[banks[i].ID] = &banks[i]
	}
	invByID := make(map[uuid.UUID]*models.Invoice, len(invoices))
	for i := range invoices {
		invByID[invoices[i].ID] = &invoices[i]
	}

	for _, p := range v.Matches {
		if token.Stopped() {
			stats.Stopped = true
			return nil
		}
		bankID, invoiceID, err := p.ids()
		if err != nil {
			stats.ParseFailures++
			log.WithError(err).Warn("skipping malformed proposal")
			continue
		}
		bank, inv := bankByID[bankID], invByID[invoiceID]
		if bank == nil || inv == nil || p.Confidence <= m.cfg.GlobalMinConfidence {
			continue
		}
		ok, err := m.commit(ctx, batchID, bank, inv, decision{
			confidence:    p.Confidence,
			reason:        p.Reason,
			isHandlingFee: p.IsHandlingFee,
			isProxy:       p.IsProxy,
			guess:         p.ProxyMapping,
		}, stats)
		if err != nil {
			return err
		}
		if ok {
			delete(bankByID, bankID)
			delete(invByID, invoiceID)
			stats.Global++
		}
	}
	log.WithField("matched", stats.Global).Info("global phase finished")
	return nil
}

// commit claims the pair and learns the proxy mapping the verdict carried.
// It reports false when either record was claimed in the meantime.
func (m *Matcher) commit(ctx context.Context, batchID uuid.UUID, bank *models.BankTransaction, inv *models.Invoice, d decision, stats *Stats) (bool, error) {
	res := &models.MatchResult{
		BatchID:    batchID,
		BankID:     bank.ID,
		InvoiceID:  inv.ID,
		MatchType:  d.matchType(),
		Confidence: d.confidence,
		Reason:     strings.TrimSpace(d.reason),
		AmountDiff: bank.Amount.Sub(inv.PayableAmount()),
		Confirmed:  true,
	}
	guess := normalizeGuess(d, bank)
	if guess != nil {
		raw, err := json.Marshal(guess)
		if err != nil {
			return false, errors.Wrap(err, "encode proxy guess")
		}
		res.ProxyMapping = raw
	}

	err := m.matches.Claim(ctx, res)
	if errors.Is(err, repository.ErrAlreadyClaimed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if guess != nil {
		_, created, err := m.mappings.Add(ctx, mapping.Input{
			PersonName:  guess.PersonName,
			CompanyName: guess.CompanyName,
			Source:      models.SourceAIExtracted,
			Remark:      "learned from match " + res.ID.String(),
		})
		switch {
		case err != nil:
			m.log.WithError(err).WithField("match_id", res.ID).Warn("could not save proxy mapping")
		case created:
			stats.MappingsLearned++
		}
	}
	return true, nil
}

// normalizeGuess returns the proxy pair to persist, filling a missing person
// with the payer name. Non-proxy verdicts carry no guess.
func normalizeGuess(d decision, bank *models.BankTransaction) *models.ProxyGuess {
	if !d.isProxy || d.guess == nil {
		return nil
	}
	g := models.ProxyGuess{
		PersonName:  strings.TrimSpace(d.guess.PersonName),
		CompanyName: strings.TrimSpace(d.guess.CompanyName),
	}
	if g.PersonName == "" {
		g.PersonName = strings.TrimSpace(bank.PayerName)
	}
	if g.PersonName == "" || g.CompanyName == "" {
		return nil
	}
	return &g
}

func (m *Matcher) countRemaining(ctx context.Context, batchID uuid.UUID, stats *Stats) error {
	banks, err := m.banks.CountByStatus(ctx, batchID)
	if err != nil {
		return err
	}
	invoices, err := m.invoices.CountByStatus(ctx, batchID)
	if err != nil {
		return err
	}
	stats.RemainingBank = int(banks[models.StatusPending])
	stats.RemainingInvoice = int(invoices[models.StatusPending])
	return nil
}
