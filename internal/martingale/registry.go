package martingale

import (
	"context"
	"sync"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// Key identifies one independent martingale cycle: a user plus the opaque
// per-strategy-instance magic number.
type Key struct {
	User  string `json:"user"`
	Magic int64  `json:"magic"`
}

// Registry is a keyed store of martingale states. Each key's state is
// mutated under its own lock (single writer per key); unrelated keys
// proceed independently.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

type entry struct {
	mu    sync.Mutex
	state State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

func (r *Registry) get(key Key) *entry {
	r.mu.RLock()
	e := r.entries[key]
	r.mu.RUnlock()
	if e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.entries[key]; e == nil {
		e = &entry{}
		r.entries[key] = e
	}
	return e
}

// Enable starts (or restarts) the cycle for key.
func (r *Registry) Enable(key Key, baseLot, targetAmount float64, maxSteps int) error {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Enable(baseLot, targetAmount, maxSteps)
}

// Disable stops the cycle for key. Safe when no cycle exists.
func (r *Registry) Disable(key Key) {
	e := r.get(key)
	e.mu.Lock()
	e.state.Disable()
	e.mu.Unlock()
}

// OnPositionClosed applies a realized profit to key's cycle.
// Returns ok=false when the cycle is not enabled (no state mutation).
func (r *Registry) OnPositionClosed(key Key, realizedProfit float64) (CloseResult, bool) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Enabled() {
		return CloseResult{}, false
	}
	return e.state.OnPositionClosed(realizedProfit), true
}

// ComputeOrderPlan prices the next trade for key's cycle.
// Returns ok=false when the cycle is not enabled.
func (r *Registry) ComputeOrderPlan(ctx context.Context, key Key, symbol string, dir Direction, quotes model.QuoteProvider) (OrderPlan, bool, error) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Enabled() {
		return OrderPlan{}, false, nil
	}
	plan, err := e.state.ComputeOrderPlan(ctx, symbol, dir, quotes)
	return plan, true, err
}

// MaxFeasibleSteps runs the feasibility query against key's cycle.
// Returns ok=false when the cycle is not enabled.
func (r *Registry) MaxFeasibleSteps(key Key, balance float64) (steps int, requiredBalance float64, ok bool) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Enabled() {
		return 0, 0, false
	}
	steps, requiredBalance = e.state.MaxFeasibleSteps(balance)
	return steps, requiredBalance, true
}

// Snapshot returns a read-only view of key's cycle.
func (r *Registry) Snapshot(key Key) (View, bool) {
	r.mu.RLock()
	e := r.entries[key]
	r.mu.RUnlock()
	if e == nil {
		return View{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(), true
}
