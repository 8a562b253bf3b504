// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"invoice-reconciliation-engine/internal/models"
)

// NewDB opens a private in-memory SQLite database with every table migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Fixture builds records with monotonically increasing creation times so
// storage order is deterministic.
type Fixture struct {
	t       testing.TB
	db      *gorm.DB
	BatchID uuid.UUID
	clock   time.Time
}

func NewFixture(t testing.TB, db *gorm.DB) *Fixture {
	t.Helper()
	f := &Fixture{
		t:       t,
		db:      db,
		BatchID: uuid.New(),
		clock:   time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
	batch := &models.ReconciliationBatch{ID: f.BatchID, Name: "test", Status: models.StageIdle, CreatedAt: f.tick()}
	if err := db.Create(batch).Error; err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return f
}

func (f *Fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// Day returns a pointer to midnight UTC of the given date.
func Day(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *Fixture) Bank(payer, amount string, date *time.Time) *models.BankTransaction {
	f.t.Helper()
	tx := &models.BankTransaction{
		ID:              uuid.New(),
		BatchID:         f.BatchID,
		TransactionDate: date,
		PayerName:       payer,
		Amount:          Amount(amount),
		Status:          models.StatusPending,
		CreatedAt:       f.tick(),
	}
	if err := f.db.Create(tx).Error; err != nil {
		f.t.Fatalf("create bank transaction: %v", err)
	}
	return tx
}

func (f *Fixture) Invoice(seller, amount string, date *time.Time) *models.Invoice {
	f.t.Helper()
	inv := &models.Invoice{
		ID:          uuid.New(),
		BatchID:     f.BatchID,
		SellerName:  seller,
		Amount:      Amount(amount),
		TotalAmount: Amount(amount),
		InvoiceDate: date,
		Status:      models.StatusPending,
		CreatedAt:   f.tick(),
	}
	if err := f.db.Create(inv).Error; err != nil {
		f.t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func (f *Fixture) Mapping(person, company string) *models.PayerMapping {
	f.t.Helper()
	m := &models.PayerMapping{
		ID:          uuid.New(),
		PersonName:  person,
		CompanyName: company,
		Source:      models.SourceManual,
		CreatedAt:   f.tick(),
	}
	if err := f.db.Create(m).Error; err != nil {
		f.t.Fatalf("create mapping: %v", err)
	}
	return m
}

// AssertMatchInvariant checks that every matched record has exactly one
// match result and every pending record has none.
func AssertMatchInvariant(t testing.TB, db *gorm.DB, batchID uuid.UUID) {
	t.Helper()
	var banks []models.BankTransaction
	var invoices []models.Invoice
	var matches []models.MatchResult
	db.Where("batch_id = ?", batchID).Find(&banks)
	db.Where("batch_id = ?", batchID).Find(&invoices)
	db.Where("batch_id = ?", batchID).Find(&matches)

	bankRefs := map[uuid.UUID]int{}
	invRefs := map[uuid.UUID]int{}
	for _, m := range matches {
		bankRefs[m.BankID]++
		invRefs[m.InvoiceID]++
	}
	for _, b := range banks {
		n := bankRefs[b.ID]
		if (b.Status == models.StatusMatched) != (n == 1) || n > 1 {
			t.Errorf("bank %s status=%s referenced by %d matches", b.PayerName, b.Status, n)
		}
	}
	for _, inv := range invoices {
		n := invRefs[inv.ID]
		if (inv.Status == models.StatusMatched) != (n == 1) || n > 1 {
			t.Errorf("invoice %s status=%s referenced by %d matches", inv.SellerName, inv.Status, n)
		}
	}
}
