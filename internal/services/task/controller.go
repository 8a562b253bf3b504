// Package task tracks cooperative stop requests per reconciliation batch.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Controller is a registry of stop flags keyed by batch id. It is safe for
// concurrent use; independent batches never share a flag.
type Controller struct {
	mu    sync.Mutex
	flags map[uuid.UUID]*atomic.Bool
}

func NewController() *Controller {
	return &Controller{flags: make(map[uuid.UUID]*atomic.Bool)}
}

func (c *Controller) flag(batchID uuid.UUID) *atomic.Bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flags[batchID]
	if !ok {
		f = new(atomic.Bool)
		c.flags[batchID] = f
	}
	return f
}

func (c *Controller) RequestStop(batchID uuid.UUID) {
	c.flag(batchID).Store(true)
}

func (c *Controller) IsStopped(batchID uuid.UUID) bool {
	c.mu.Lock()
	f, ok := c.flags[batchID]
	c.mu.Unlock()
	return ok && f.Load()
}

// ClearStopFlag resets the batch's flag and forgets it. Tokens handed out
// earlier observe the reset; later calls start from a fresh flag.
func (c *Controller) ClearStopFlag(batchID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flags[batchID]; ok {
		f.Store(false)
		delete(c.flags, batchID)
	}
}

// Token returns the stop token tiers consult between work units.
func (c *Controller) Token(batchID uuid.UUID) *Token {
	return &Token{batchID: batchID, flag: c.flag(batchID)}
}

// Token carries one batch's stop flag down through the tiers.
// A nil Token is never stopped.
type Token struct {
	batchID uuid.UUID
	flag    *atomic.Bool
}

func (t *Token) Stopped() bool {
	return t != nil && t.flag.Load()
}

func (t *Token) BatchID() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.batchID
}
