package matching

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/mapping"
	"invoice-reconciliation-engine/internal/services/task"
	"invoice-reconciliation-engine/internal/testutil"
)

func newMatcher(t *testing.T, cfg Config) (*Matcher, *gorm.DB, *testutil.Fixture) {
	t.Helper()
	db := testutil.NewDB(t)
	log := logger.Discard()
	return NewMatcher(db, mapping.NewStore(db, log), cfg, log), db, testutil.NewFixture(t, db)
}

func matchFor(t *testing.T, db *gorm.DB, bank *models.BankTransaction) *models.MatchResult {
	t.Helper()
	var m models.MatchResult
	if err := db.First(&m, "bank_id = ?", bank.ID).Error; err != nil {
		return nil
	}
	return &m
}

func TestPerfectPassPrefersClosestDate(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	f.Invoice("Acme Ltd", "1000.00", testutil.Day(2024, 1, 1))
	near := f.Invoice("ACME  ltd.", "1000.00", testutil.Day(2024, 3, 8))
	bank := f.Bank("Acme Ltd", "1000.00", testutil.Day(2024, 3, 10))

	stats, err := m.Run(context.Background(), f.BatchID, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Perfect != 1 || stats.RemainingInvoice != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := matchFor(t, db, bank)
	if got == nil || got.InvoiceID != near.ID {
		t.Fatalf("matched %+v, want invoice %s", got, near.ID)
	}
	if got.MatchType != models.MatchPerfect || got.Confidence != 1.0 || got.NeedsConfirmation {
		t.Errorf("match = %+v", got)
	}
	testutil.AssertMatchInvariant(t, db, f.BatchID)
}

func TestPerfectPassTieBreaksOnCreation(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	first := f.Invoice("Acme Ltd", "50", nil)
	f.Invoice("Acme Ltd", "50", nil)
	bank := f.Bank("Acme Ltd", "50", nil)

	if _, err := m.Run(context.Background(), f.BatchID, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := matchFor(t, db, bank); got == nil || got.InvoiceID != first.ID {
		t.Errorf("matched %+v, want earliest invoice", got)
	}
}

func TestToleranceBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToleranceAbsolute = 20
	cfg.TolerancePercent = 0

	tests := []struct {
		name    string
		invoice string
		matched bool
	}{
		{"at boundary", "120.00", true},
		{"one unit beyond", "121.00", false},
		{"bank pays more", "80.00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, db, f := newMatcher(t, cfg)
			inv := f.Invoice("Beta Co", tt.invoice, nil)
			bank := f.Bank("Beta Co", "100.00", nil)

			stats, err := m.Run(context.Background(), f.BatchID, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := matchFor(t, db, bank)
			if (got != nil) != tt.matched {
				t.Fatalf("matched = %v, want %v (stats %+v)", got != nil, tt.matched, stats)
			}
			if !tt.matched {
				var reloaded models.Invoice
				db.First(&reloaded, "id = ?", inv.ID)
				if reloaded.Status != models.StatusPending {
					t.Errorf("invoice status = %s", reloaded.Status)
				}
				return
			}
			if got.MatchType != models.MatchTolerance || !got.NeedsConfirmation {
				t.Errorf("match = %+v", got)
			}
			want := testutil.Amount("100").Sub(testutil.Amount(tt.invoice))
			if !got.AmountDiff.Equal(want) {
				t.Errorf("amount diff = %s, want %s", got.AmountDiff, want)
			}
		})
	}
}

func TestTolerancePercentWidensBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TolerancePercent = 0.05
	m, db, f := newMatcher(t, cfg)
	f.Invoice("Gamma", "1000", nil)
	bank := f.Bank("Gamma", "955", nil)

	if _, err := m.Run(context.Background(), f.BatchID, nil, nil); err != nil {
		t.Fatal(err)
	}
	if matchFor(t, db, bank) == nil {
		t.Error("45 off a 1000 invoice should fit a 5% band")
	}
}

func TestNegligibleDifferenceNeedsNoConfirmation(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	f.Invoice("Delta", "100.50", nil)
	bank := f.Bank("Delta", "100.00", nil)

	if _, err := m.Run(context.Background(), f.BatchID, nil, nil); err != nil {
		t.Fatal(err)
	}
	got := matchFor(t, db, bank)
	if got == nil || got.NeedsConfirmation || !got.Confirmed {
		t.Errorf("match = %+v", got)
	}
}

func TestProxyPass(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	f.Mapping("张三", "某某科技有限公司")
	inv := f.Invoice("某某科技有限公司", "3000", testutil.Day(2024, 5, 1))
	bank := f.Bank("张三", "2990", testutil.Day(2024, 5, 20))
	late := f.Bank("张三", "500", testutil.Day(2024, 9, 1))
	f.Invoice("某某科技有限公司", "500", testutil.Day(2024, 5, 1))

	stats, err := m.Run(context.Background(), f.BatchID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Proxy != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := matchFor(t, db, bank)
	if got == nil || got.InvoiceID != inv.ID || got.MatchType != models.MatchProxy {
		t.Fatalf("match = %+v", got)
	}
	if !got.NeedsConfirmation || got.Confidence != 0.9 || len(got.ProxyMapping) == 0 {
		t.Errorf("match = %+v", got)
	}
	if matchFor(t, db, late) != nil {
		t.Error("proxy pass ignored the date window")
	}
	testutil.AssertMatchInvariant(t, db, f.BatchID)
}

func TestAccountVerifiedMappingCountsAsCounterparty(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	mp := f.Mapping("李四", "乙公司")
	db.Model(mp).Update("account_suffix", "4567")
	f.Invoice("乙公司", "800", nil)
	bank := f.Bank("李四", "800", nil)
	db.Model(bank).Update("payer_account", "6225880101234567")

	if _, err := m.Run(context.Background(), f.BatchID, nil, nil); err != nil {
		t.Fatal(err)
	}
	got := matchFor(t, db, bank)
	if got == nil || got.MatchType != models.MatchPerfect {
		t.Errorf("match = %+v, want perfect", got)
	}
}

func TestNameOnlyMappingIsProxyNotPerfect(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	f.Mapping("王五", "丙公司")
	inv := f.Invoice("丙公司", "800", nil)
	bank := f.Bank("王五", "800", nil)
	db.Model(bank).Update("payer_account", "6225880101234567")

	stats, err := m.Run(context.Background(), f.BatchID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Perfect != 0 || stats.Tolerance != 0 || stats.Proxy != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := matchFor(t, db, bank)
	if got == nil || got.InvoiceID != inv.ID || got.MatchType != models.MatchProxy {
		t.Fatalf("match = %+v, want proxy", got)
	}
	if got.Confidence != 0.9 || !got.NeedsConfirmation || got.Confirmed {
		t.Errorf("match = %+v", got)
	}
	testutil.AssertMatchInvariant(t, db, f.BatchID)
}

func TestRunIsIdempotent(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	f.Invoice("Acme", "10", nil)
	f.Invoice("Acme", "20", nil)
	f.Invoice("Other", "30", nil)
	f.Bank("Acme", "10", nil)
	f.Bank("Acme", "19.5", nil)
	f.Bank("Nobody", "30", nil)

	first, err := m.Run(context.Background(), f.BatchID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Matched() != 2 {
		t.Fatalf("first run = %+v", first)
	}
	second, err := m.Run(context.Background(), f.BatchID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Matched() != 0 {
		t.Errorf("second run = %+v", second)
	}
	var count int64
	db.Model(&models.MatchResult{}).Where("batch_id = ?", f.BatchID).Count(&count)
	if count != 2 {
		t.Errorf("match results = %d, want 2", count)
	}
	testutil.AssertMatchInvariant(t, db, f.BatchID)
}

func TestRunHonoursStop(t *testing.T) {
	m, db, f := newMatcher(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		f.Invoice("Acme", "10", nil)
		f.Bank("Acme", "10", nil)
	}
	ctrl := task.NewController()
	token := ctrl.Token(f.BatchID)

	progress := func(current, total int, message string) {
		if current == 0 {
			return
		}
		ctrl.RequestStop(f.BatchID)
	}
	cfg := DefaultConfig()
	cfg.ProgressEvery = 2
	m.cfg = cfg

	stats, err := m.Run(context.Background(), f.BatchID, token, progress)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Stopped || stats.Perfect != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.RemainingBank != 3 {
		t.Errorf("remaining = %d", stats.RemainingBank)
	}
	testutil.AssertMatchInvariant(t, db, f.BatchID)

	ctrl.ClearStopFlag(f.BatchID)
	resumed, err := m.Run(context.Background(), f.BatchID, token, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Perfect != 3 || resumed.RemainingBank != 0 {
		t.Errorf("resumed = %+v", resumed)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.ProxyConfidence = 1.5
	if bad.Validate() == nil {
		t.Error("confidence above 1 accepted")
	}
	bad = DefaultConfig()
	bad.ProgressEvery = 0
	if bad.Validate() == nil {
		t.Error("zero progress cadence accepted")
	}
}
