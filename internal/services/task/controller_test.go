package task

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestStopFlagLifecycle(t *testing.T) {
	c := NewController()
	batch := uuid.New()

	if c.IsStopped(batch) {
		t.Fatal("fresh batch should not be stopped")
	}
	tok := c.Token(batch)
	c.RequestStop(batch)
	if !c.IsStopped(batch) || !tok.Stopped() {
		t.Fatal("stop request not observed")
	}
	c.ClearStopFlag(batch)
	if c.IsStopped(batch) || tok.Stopped() {
		t.Fatal("cleared flag still observed")
	}
}

func TestClearStopFlagForgetsBatch(t *testing.T) {
	c := NewController()
	for i := 0; i < 10; i++ {
		batch := uuid.New()
		c.Token(batch)
		c.RequestStop(batch)
		c.ClearStopFlag(batch)
	}
	c.ClearStopFlag(uuid.New())
	if n := len(c.flags); n != 0 {
		t.Fatalf("flags = %d, want 0", n)
	}

	batch := uuid.New()
	old := c.Token(batch)
	c.RequestStop(batch)
	c.ClearStopFlag(batch)
	fresh := c.Token(batch)
	c.RequestStop(batch)
	if old.Stopped() || !fresh.Stopped() {
		t.Errorf("old = %v, fresh = %v", old.Stopped(), fresh.Stopped())
	}
}

func TestFlagsAreIndependentPerBatch(t *testing.T) {
	c := NewController()
	a, b := uuid.New(), uuid.New()
	c.RequestStop(a)
	if c.IsStopped(b) || c.Token(b).Stopped() {
		t.Fatal("stop leaked to another batch")
	}
}

func TestNilTokenNeverStopped(t *testing.T) {
	var tok *Token
	if tok.Stopped() {
		t.Fatal("nil token reported stopped")
	}
	if tok.BatchID() != uuid.Nil {
		t.Fatal("nil token should report nil batch id")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewController()
	batch := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.RequestStop(batch) }()
		go func() { defer wg.Done(); _ = c.Token(batch).Stopped() }()
	}
	wg.Wait()
	if !c.IsStopped(batch) {
		t.Fatal("expected batch to be stopped")
	}
}
