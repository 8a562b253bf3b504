package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/exception"
	"invoice-reconciliation-engine/internal/services/matching"
	"invoice-reconciliation-engine/internal/services/semantic"
	"invoice-reconciliation-engine/internal/services/task"
	"invoice-reconciliation-engine/internal/testutil"
)

type fakeReasoner struct {
	calls int
	reply func(user string) (string, error)
}

func (f *fakeReasoner) Chat(ctx context.Context, system, user string, temperature float32) (string, error) {
	f.calls++
	return f.reply(user)
}

func defaultConfig() Config {
	return Config{
		Matching:   matching.DefaultConfig(),
		Semantic:   semantic.DefaultConfig(),
		Exceptions: exception.DefaultConfig(),
	}
}

type harness struct {
	db  *gorm.DB
	f   *testutil.Fixture
	svc *Service
}

func newHarness(t *testing.T, reasoner semantic.Reasoner, cfg Config) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	return &harness{
		db:  db,
		f:   testutil.NewFixture(t, db),
		svc: NewService(db, reasoner, task.NewController(), cfg, logger.Discard()),
	}
}

func (h *harness) batch(t *testing.T) *models.ReconciliationBatch {
	t.Helper()
	b, err := h.svc.GetBatch(context.Background(), h.f.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRunReconcilesBatch(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	h.f.Bank("Acme", "100", testutil.Day(2024, 3, 1))
	h.f.Invoice("Acme", "100", testutil.Day(2024, 3, 1))
	h.f.Bank("Acme", "500", nil)
	h.f.Invoice("Acme", "510", nil)
	h.f.Bank("Stranger", "42", nil)
	h.f.Invoice("Other Co", "77", nil)

	var events []ProgressEvent
	res, err := h.svc.Run(context.Background(), h.f.BatchID, Options{}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != models.StageUnbalanced || res.Matched != 2 || res.UnmatchedBank != 1 || res.UnmatchedInvoice != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Rule.Perfect != 1 || res.Rule.Tolerance != 1 {
		t.Errorf("rule stats = %+v", res.Rule)
	}
	if res.Exceptions == nil || res.Exceptions.Total != 2 {
		t.Errorf("exceptions = %+v", res.Exceptions)
	}
	testutil.AssertMatchInvariant(t, h.db, h.f.BatchID)

	b := h.batch(t)
	if b.Status != models.StageUnbalanced || b.MatchedCount != 2 || b.UnmatchedCount != 2 || b.ExceptionCount != 2 {
		t.Errorf("batch = %+v", b)
	}
	if b.TotalBankCount != 3 || b.TotalInvoiceCount != 3 || b.CompletedAt == nil || len(b.Stats) == 0 {
		t.Errorf("batch bookkeeping = %+v", b)
	}

	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	last := events[len(events)-1]
	if last.Stage != models.StageUnbalanced || last.Percentage != 100 {
		t.Errorf("last event = %+v", last)
	}
	cached, err := h.svc.Progress(context.Background(), h.f.BatchID)
	if err != nil || cached.Stage != models.StageUnbalanced {
		t.Errorf("Progress = %+v, %v", cached, err)
	}
}

func TestRunCompletesBalancedBatch(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	h.f.Bank("Acme", "100", nil)
	h.f.Invoice("ACME", "100", nil)

	res, err := h.svc.Run(context.Background(), h.f.BatchID, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != models.StageCompleted || res.Exceptions.Total != 0 {
		t.Errorf("result = %+v", res)
	}
	if b := h.batch(t); b.Status != models.StageCompleted {
		t.Errorf("batch status = %s", b.Status)
	}
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	ctx := context.Background()
	h.svc.running.Store(h.f.BatchID, struct{}{})

	if _, err := h.svc.Run(ctx, h.f.BatchID, Options{}, nil); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Run err = %v", err)
	}
	if err := h.svc.Start(h.f.BatchID, Options{}); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Start err = %v", err)
	}
	if _, err := h.svc.AddBankTransactions(ctx, h.f.BatchID, []BankInput{{PayerName: "A", Amount: decimal.NewFromInt(1)}}); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("ingest err = %v", err)
	}
	if !h.svc.RequestStop(h.f.BatchID) {
		t.Error("RequestStop should report the run in flight")
	}
	if _, err := h.svc.Run(ctx, uuid.New(), Options{}, nil); !repository.IsNotFound(err) {
		t.Errorf("unknown batch err = %v", err)
	}
}

func TestStopSkipsRemainingTiersAndResumes(t *testing.T) {
	cfg := defaultConfig()
	cfg.Matching.ProgressEvery = 1
	fake := &fakeReasoner{reply: func(string) (string, error) { return `{"matchFound": false, "reason": "none"}`, nil }}
	h := newHarness(t, fake, cfg)
	for i := 1; i <= 3; i++ {
		amount := fmt.Sprint(i * 100)
		h.f.Bank("Acme", amount, nil)
		h.f.Invoice("Acme", amount, nil)
	}
	ctx := context.Background()

	res, err := h.svc.Run(ctx, h.f.BatchID, Options{EnableAI: true}, func(ev ProgressEvent) {
		if ev.Stage == models.StageRuleMatching && ev.Current == 1 {
			h.svc.RequestStop(h.f.BatchID)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != models.StageStopped || !res.Rule.Stopped || res.Matched != 1 {
		t.Fatalf("result = %+v", res)
	}
	if fake.calls != 0 || res.Semantic != nil {
		t.Errorf("semantic tier ran after stop: %d calls", fake.calls)
	}
	if res.Exceptions == nil || res.Exceptions.Total != 4 {
		t.Errorf("exceptions after stop = %+v", res.Exceptions)
	}
	if b := h.batch(t); b.Status != models.StageStopped {
		t.Errorf("batch status = %s", b.Status)
	}
	testutil.AssertMatchInvariant(t, h.db, h.f.BatchID)

	res, err = h.svc.Run(ctx, h.f.BatchID, Options{EnableAI: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != models.StageCompleted || res.Matched != 3 || res.Exceptions.Total != 0 {
		t.Errorf("resumed result = %+v", res)
	}
	pending, _ := h.svc.Exceptions().List(ctx, h.f.BatchID, models.ExceptionPending)
	if len(pending) != 0 {
		t.Errorf("stale exceptions after resume: %d", len(pending))
	}
	testutil.AssertMatchInvariant(t, h.db, h.f.BatchID)
}

func TestStopWhileIdleIsIgnored(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	h.f.Bank("Acme", "100", nil)
	h.f.Invoice("Acme", "100", nil)

	if h.svc.RequestStop(h.f.BatchID) {
		t.Error("RequestStop reported a run for an idle batch")
	}
	res, err := h.svc.Run(context.Background(), h.f.BatchID, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != models.StageCompleted || res.Rule.Stopped {
		t.Errorf("result = %+v", res)
	}
	if h.svc.Running(h.f.BatchID) || h.svc.tasks.IsStopped(h.f.BatchID) {
		t.Error("finished batch left state behind")
	}
}

func TestSemanticFailureDoesNotAbortRun(t *testing.T) {
	fake := &fakeReasoner{reply: func(string) (string, error) { return "", errors.New("connection refused") }}
	h := newHarness(t, fake, defaultConfig())
	h.f.Bank("Acme", "100", nil)
	h.f.Invoice("Acme", "100", nil)
	h.f.Bank("J. Smith", "990", nil)
	h.f.Invoice("Acme Trading Ltd", "1000", nil)

	res, err := h.svc.Run(context.Background(), h.f.BatchID, Options{EnableAI: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "connection refused") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Stage != models.StageUnbalanced || res.Matched != 1 || res.Exceptions == nil {
		t.Errorf("result = %+v", res)
	}
}

type failingRules struct {
	inner ruleTier
	err   error
}

// Run lets the wrapped matcher make its matches, then reports a failure.
func (r failingRules) Run(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc) (matching.Stats, error) {
	stats, err := r.inner.Run(ctx, batchID, token, progress)
	if err != nil {
		return stats, err
	}
	return stats, r.err
}

func TestRuleFailureStillDetectsExceptions(t *testing.T) {
	fake := &fakeReasoner{reply: func(string) (string, error) { return "{}", nil }}
	h := newHarness(t, fake, defaultConfig())
	h.svc.rules = failingRules{inner: h.svc.rules, err: errors.New("disk I/O error")}
	h.f.Bank("Acme", "100", nil)
	h.f.Invoice("Acme", "100", nil)
	h.f.Bank("Stranger", "42", nil)
	h.f.Invoice("Other Co", "77", nil)

	res, err := h.svc.Run(context.Background(), h.f.BatchID, Options{EnableAI: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "rule matching: disk I/O error") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Exceptions == nil || res.Exceptions.Total != 2 || res.Exceptions.ByType[models.ExceptionNoInvoice] != 1 {
		t.Fatalf("exceptions = %+v", res.Exceptions)
	}
	if res.Semantic != nil || fake.calls != 0 {
		t.Errorf("semantic tier ran after rule failure: %+v, %d calls", res.Semantic, fake.calls)
	}
	if res.Stage != models.StageUnbalanced || res.Matched != 1 {
		t.Errorf("result = %+v", res)
	}
	if b := h.batch(t); b.Status != models.StageUnbalanced {
		t.Errorf("batch status = %s", b.Status)
	}
}

func TestSemanticTierMatchesRemainder(t *testing.T) {
	fake := &fakeReasoner{}
	h := newHarness(t, fake, defaultConfig())
	bank := h.f.Bank("J. Smith", "990", nil)
	inv := h.f.Invoice("Acme Trading Ltd", "1000", nil)
	fake.reply = func(string) (string, error) {
		return fmt.Sprintf(`{"matchFound": true, "candidateId": %q, "confidence": 0.9, "reason": "remark names the order"}`, inv.ID), nil
	}
	ctx := context.Background()

	res, err := h.svc.Run(ctx, h.f.BatchID, Options{EnableAI: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Semantic == nil || res.Semantic.PerItem != 1 || res.Stage != models.StageCompleted {
		t.Fatalf("result = %+v", res)
	}
	matches, _ := h.svc.ListMatches(ctx, h.f.BatchID)
	if len(matches) != 1 || matches[0].BankID != bank.ID || matches[0].MatchType != models.MatchAI {
		t.Errorf("matches = %+v", matches)
	}

	disabled := newHarness(t, fake, defaultConfig())
	disabled.f.Bank("J. Smith", "990", nil)
	disabled.f.Invoice("Acme Trading Ltd", "1000", nil)
	calls := fake.calls
	res, err = disabled.svc.Run(ctx, disabled.f.BatchID, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fake.calls != calls || res.Semantic != nil {
		t.Error("semantic tier ran without EnableAI")
	}
}

func TestConfirmMatch(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	h.f.Bank("Acme", "500", nil)
	h.f.Invoice("Acme", "510", nil)
	ctx := context.Background()
	if _, err := h.svc.Run(ctx, h.f.BatchID, Options{SkipExceptions: true}, nil); err != nil {
		t.Fatal(err)
	}
	matches, _ := h.svc.ListMatches(ctx, h.f.BatchID)
	if len(matches) != 1 || !matches[0].NeedsConfirmation {
		t.Fatalf("matches = %+v", matches)
	}

	for i := 0; i < 2; i++ {
		got, err := h.svc.ConfirmMatch(ctx, matches[0].ID, "carol")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Confirmed || got.NeedsConfirmation {
			t.Errorf("confirm %d = %+v", i, got)
		}
	}
	var audits []models.MatchAuditLog
	h.db.Find(&audits)
	if len(audits) != 1 || audits[0].Action != models.AuditConfirmMatch || audits[0].PerformedBy != "carol" {
		t.Errorf("audits = %+v", audits)
	}
	if _, err := h.svc.ConfirmMatch(ctx, uuid.New(), "carol"); !repository.IsNotFound(err) {
		t.Errorf("unknown match err = %v", err)
	}
}

func TestIngestion(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	ctx := context.Background()
	batch, err := h.svc.CreateBatch(ctx, "  March  ")
	if err != nil {
		t.Fatal(err)
	}
	if batch.Name != "March" || batch.Status != models.StageIdle {
		t.Errorf("batch = %+v", batch)
	}

	_, err = h.svc.AddBankTransactions(ctx, batch.ID, []BankInput{
		{PayerName: "A", Amount: decimal.NewFromInt(10), TransactionDate: "2024-03-01"},
		{PayerName: "B", Amount: decimal.NewFromInt(20), TransactionDate: "03/02/2024"},
	})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("bad date err = %v", err)
	}
	_, err = h.svc.AddBankTransactions(ctx, batch.ID, []BankInput{{PayerName: "A", Amount: decimal.Zero}})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("zero amount err = %v", err)
	}
	_, err = h.svc.AddInvoices(ctx, batch.ID, []InvoiceInput{{Amount: decimal.NewFromInt(10)}})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("missing seller err = %v", err)
	}

	n, err := h.svc.AddBankTransactions(ctx, batch.ID, []BankInput{
		{PayerName: " A ", Amount: decimal.NewFromInt(10), TransactionDate: "2024-03-01"},
		{PayerName: "B", Amount: decimal.NewFromInt(20)},
	})
	if err != nil || n != 2 {
		t.Fatalf("AddBankTransactions = %d, %v", n, err)
	}
	n, err = h.svc.AddInvoices(ctx, batch.ID, []InvoiceInput{
		{SellerName: "A", Amount: decimal.NewFromInt(9), TotalAmount: decimal.NewFromInt(10), InvoiceDate: "2024-02-28"},
	})
	if err != nil || n != 1 {
		t.Fatalf("AddInvoices = %d, %v", n, err)
	}

	got, _ := h.svc.GetBatch(ctx, batch.ID)
	if got.TotalBankCount != 2 || got.TotalInvoiceCount != 1 {
		t.Errorf("totals = %d/%d", got.TotalBankCount, got.TotalInvoiceCount)
	}
	var stored []models.BankTransaction
	h.db.Where("batch_id = ?", batch.ID).Order("created_at").Find(&stored)
	if len(stored) != 2 || stored[0].PayerName != "A" || stored[0].TransactionDate == nil || stored[1].TransactionDate != nil {
		t.Errorf("stored = %+v", stored)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil, defaultConfig())
	h.f.Bank("Acme", "100", nil)
	h.f.Invoice("Acme", "100", nil)
	h.f.Bank("Stranger", "40", nil)
	ctx := context.Background()
	if _, err := h.svc.Run(ctx, h.f.BatchID, Options{}, nil); err != nil {
		t.Fatal(err)
	}

	st, err := h.svc.Stats(ctx, h.f.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Bank.Total != 2 || st.Bank.MatchedCount != 1 || st.Bank.PendingCount != 1 {
		t.Errorf("bank stats = %+v", st.Bank)
	}
	if !st.Bank.TotalAmount.Equal(decimal.NewFromInt(140)) || !st.Bank.PendingSum.Equal(decimal.NewFromInt(40)) {
		t.Errorf("bank sums = %s / %s", st.Bank.TotalAmount, st.Bank.PendingSum)
	}
	if st.Invoice.MatchedCount != 1 || st.MatchesByType[models.MatchPerfect] != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Exceptions[models.ExceptionPending] != 1 {
		t.Errorf("exceptions = %v", st.Exceptions)
	}
}
