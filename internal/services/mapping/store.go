// Package mapping keeps the payer → company table used to explain payments
// made by an individual on behalf of an invoiced company.
package mapping

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/names"
)

var ErrInvalidMapping = errors.New("invalid payer mapping")

type Input struct {
	PersonName    string               `json:"person_name"`
	CompanyName   string               `json:"company_name"`
	AccountSuffix string               `json:"account_suffix"`
	Remark        string               `json:"remark"`
	Source        models.MappingSource `json:"source"`
}

// Patch updates only the non-nil fields.
type Patch struct {
	PersonName    *string `json:"person_name"`
	CompanyName   *string `json:"company_name"`
	AccountSuffix *string `json:"account_suffix"`
	Remark        *string `json:"remark"`
}

type BatchError struct {
	PersonName string `json:"person_name"`
	Error      string `json:"error"`
}

type BatchResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []BatchError `json:"errors"`
}

type ProxyCandidate struct {
	PayerName        string          `json:"payer_name"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
	TransactionIDs   []uuid.UUID     `json:"transaction_ids"`
	Reason           string          `json:"reason"`
}

const (
	ReasonLikelyPerson = "likely individual payer"
	ReasonUnknownPayer = "payer not found among invoice counterparties"
)

type Store struct {
	mappings *repository.MappingRepository
	banks    *repository.BankTransactionRepository
	invoices *repository.InvoiceRepository
	log      logrus.FieldLogger
}

func NewStore(db *gorm.DB, log logrus.FieldLogger) *Store {
	return &Store{
		mappings: repository.NewMappingRepository(db),
		banks:    repository.NewBankTransactionRepository(db),
		invoices: repository.NewInvoiceRepository(db),
		log:      log.WithField("component", "mapping"),
	}
}

func (s *Store) List(ctx context.Context) ([]models.PayerMapping, error) {
	return s.mappings.List(ctx)
}

func (s *Store) Search(ctx context.Context, keyword string) ([]models.PayerMapping, error) {
	return s.mappings.Search(ctx, keyword)
}

// Index loads a lookup snapshot of the whole table.
func (s *Store) Index(ctx context.Context) (*Index, error) {
	all, err := s.mappings.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(all), nil
}

// Lookup returns the company of the earliest mapping for personName.
func (s *Store) Lookup(ctx context.Context, personName string) (string, bool, error) {
	ix, err := s.Index(ctx)
	if err != nil {
		return "", false, err
	}
	found := ix.For(personName)
	if len(found) == 0 {
		return "", false, nil
	}
	return found[0].CompanyName, true, nil
}

// Conflicts lists the distinct companies personName is mapped to.
// More than one entry means the mappings disagree.
func (s *Store) Conflicts(ctx context.Context, personName string) ([]string, error) {
	ix, err := s.Index(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Companies(personName), nil
}

// Add inserts the mapping unless the same normalized pair already exists.
// The returned bool reports whether a row was created.
func (s *Store) Add(ctx context.Context, in Input) (*models.PayerMapping, bool, error) {
	if err := normalizeInput(&in); err != nil {
		return nil, false, err
	}
	ix, err := s.Index(ctx)
	if err != nil {
		return nil, false, err
	}
	return s.addTo(ctx, ix, in)
}

// BatchAdd adds every input independently against one snapshot of the table
// and tallies the outcome. Inputs that already exist count as successes.
func (s *Store) BatchAdd(ctx context.Context, inputs []Input) BatchResult {
	res := BatchResult{Errors: []BatchError{}}
	ix, err := s.Index(ctx)
	if err != nil {
		for _, in := range inputs {
			res.Failed++
			res.Errors = append(res.Errors, BatchError{PersonName: in.PersonName, Error: err.Error()})
		}
		return res
	}
	for _, in := range inputs {
		err := normalizeInput(&in)
		if err == nil {
			_, _, err = s.addTo(ctx, ix, in)
		}
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BatchError{PersonName: in.PersonName, Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res
}

func normalizeInput(in *Input) error {
	in.PersonName = strings.TrimSpace(in.PersonName)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if in.PersonName == "" || in.CompanyName == "" {
		return errors.Wrap(ErrInvalidMapping, "person name and company name are required")
	}
	if in.Source == "" {
		in.Source = models.SourceManual
	}
	if !in.Source.Valid() {
		return errors.Wrapf(ErrInvalidMapping, "unknown source %q", in.Source)
	}
	return nil
}

// addTo creates the mapping unless ix already holds the pair, and records a
// new row in ix.
func (s *Store) addTo(ctx context.Context, ix *Index, in Input) (*models.PayerMapping, bool, error) {
	if existing := ix.Find(in.PersonName, in.CompanyName); existing != nil {
		return existing, false, nil
	}

	m := &models.PayerMapping{
		ID:            uuid.New(),
		PersonName:    in.PersonName,
		CompanyName:   in.CompanyName,
		AccountSuffix: strings.TrimSpace(in.AccountSuffix),
		Remark:        strings.TrimSpace(in.Remark),
		Source:        in.Source,
		CreatedAt:     time.Now(),
	}
	if err := s.mappings.Create(ctx, m); err != nil {
		return nil, false, err
	}
	ix.Add(*m)
	s.log.WithFields(logrus.Fields{"person": m.PersonName, "company": m.CompanyName, "source": m.Source}).
		Info("payer mapping added")
	return m, true, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, p Patch) (*models.PayerMapping, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.PersonName != nil && strings.TrimSpace(*p.PersonName) != "" {
		m.PersonName = strings.TrimSpace(*p.PersonName)
	}
	if p.CompanyName != nil && strings.TrimSpace(*p.CompanyName) != "" {
		m.CompanyName = strings.TrimSpace(*p.CompanyName)
	}
	if p.AccountSuffix != nil {
		m.AccountSuffix = strings.TrimSpace(*p.AccountSuffix)
	}
	if p.Remark != nil {
		m.Remark = strings.TrimSpace(*p.Remark)
	}
	if err := s.mappings.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.mappings.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SuggestCompanyNames lists distinct seller names in first-seen order.
func (s *Store) SuggestCompanyNames(ctx context.Context, batchID *uuid.UUID) ([]string, error) {
	all, err := s.invoices.SellerNames(ctx, batchID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, name := range all {
		key := names.Normalize(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(name))
	}
	return out, nil
}

// DetectProxyCandidates groups the batch's bank payers that neither appear
// among the invoice counterparties nor have a mapping yet.
func (s *Store) DetectProxyCandidates(ctx context.Context, batchID uuid.UUID) ([]ProxyCandidate, error) {
	txs, err := s.banks.ListByBatch(ctx, batchID, "")
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListByBatch(ctx, batchID, "")
	if err != nil {
		return nil, err
	}
	ix, err := s.Index(ctx)
	if err != nil {
		return nil, err
	}

	counterparties := make(map[string]bool, len(invoices)*2)
	for _, inv := range invoices {
		for _, n := range []string{inv.SellerName, inv.BuyerName} {
			if key := names.Normalize(n); key != "" {
				counterparties[key] = true
			}
		}
	}

	var out []ProxyCandidate
	byPayer := map[string]int{}
	for _, tx := range txs {
		key := names.Normalize(tx.PayerName)
		if key == "" || counterparties[key] || ix.Has(tx.PayerName) {
			continue
		}
		i, ok := byPayer[key]
		if !ok {
			reason := ReasonUnknownPayer
			if names.LikelyPerson(tx.PayerName) {
				reason = ReasonLikelyPerson
			}
			out = append(out, ProxyCandidate{
				PayerName:   strings.TrimSpace(tx.PayerName),
				TotalAmount: decimal.Zero,
				Reason:      reason,
			})
			i = len(out) - 1
			byPayer[key] = i
		}
		out[i].TotalAmount = out[i].TotalAmount.Add(tx.Amount)
		out[i].TransactionCount++
		out[i].TransactionIDs = append(out[i].TransactionIDs, tx.ID)
	}
	return out, nil
}

// Deduplicate removes rows sharing a normalized (person, company) pair,
// keeping the earliest created one, and returns how many were removed.
func (s *Store) Deduplicate(ctx context.Context) (int, error) {
	all, err := s.mappings.List(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[pairKey]bool, len(all))
	var drop []uuid.UUID
	for _, m := range all {
		k := keyOf(m.PersonName, m.CompanyName)
		if seen[k] {
			drop = append(drop, m.ID)
			continue
		}
		seen[k] = true
	}
	n, err := s.mappings.Delete(ctx, drop...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("payer mappings deduplicated")
	}
	return int(n), nil
}
