// Package cache holds the decision server's in-memory state: per-symbol
// candle windows refreshed by bridge pushes, plus the latest tick and
// composite score per symbol.
package cache

import (
	"sort"
	"sync"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

const defaultMaxWindow = 500

// Store is the per-symbol candle/tick/score cache. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	maxWindow int
	symbols   map[string]*symbolState
}

type symbolState struct {
	candles  []model.Candle
	tick     model.Tick
	hasTick  bool
	score    model.CompositeScore
	hasScore bool
}

// New creates a store. maxWindow bounds each symbol's candle window;
// non-positive means the default (500).
func New(maxWindow int) *Store {
	if maxWindow <= 0 {
		maxWindow = defaultMaxWindow
	}
	return &Store{maxWindow: maxWindow, symbols: make(map[string]*symbolState)}
}

func (s *Store) state(symbol string) *symbolState {
	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	return st
}

// MergeCandles folds a pushed candle batch into symbol's window. Candles
// newer than the window tail are appended; a candle matching the tail's
// timestamp replaces it (the forming bar updating); anything older is
// dropped as stale. Returns the number of candles applied and dropped.
func (s *Store) MergeCandles(symbol string, candles []model.Candle) (applied, stale int) {
	if len(candles) == 0 {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(symbol)

	for _, c := range candles {
		n := len(st.candles)
		switch {
		case n == 0 || c.Time > st.candles[n-1].Time:
			st.candles = append(st.candles, c)
			applied++
		case c.Time == st.candles[n-1].Time:
			st.candles[n-1] = c
			applied++
		default:
			stale++
		}
	}
	if len(st.candles) > s.maxWindow {
		st.candles = st.candles[len(st.candles)-s.maxWindow:]
	}
	return applied, stale
}

// SetTick records the latest tick for symbol.
func (s *Store) SetTick(symbol string, tick model.Tick) {
	s.mu.Lock()
	st := s.state(symbol)
	st.tick = tick
	st.hasTick = true
	s.mu.Unlock()
}

// SetScore records the latest composite score for symbol.
func (s *Store) SetScore(symbol string, score model.CompositeScore) {
	s.mu.Lock()
	st := s.state(symbol)
	st.score = score
	st.hasScore = true
	s.mu.Unlock()
}

// Window returns a copy of symbol's candle window, at most limit candles
// from the tail (limit <= 0 means all).
func (s *Store) Window(symbol string, limit int) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	candles := st.candles
	if limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	out := make([]model.Candle, len(candles))
	copy(out, candles)
	return out
}

// Tick returns the latest tick for symbol.
func (s *Store) Tick(symbol string) (model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok || !st.hasTick {
		return model.Tick{}, false
	}
	return st.tick, true
}

// Score returns the latest composite score for symbol.
func (s *Store) Score(symbol string) (model.CompositeScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok || !st.hasScore {
		return model.CompositeScore{}, false
	}
	return st.score, true
}

// Symbols returns the known symbols, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SnapshotWindows copies every symbol's candle window for persistence.
func (s *Store) SnapshotWindows() map[string][]model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.Candle, len(s.symbols))
	for sym, st := range s.symbols {
		if len(st.candles) == 0 {
			continue
		}
		window := make([]model.Candle, len(st.candles))
		copy(window, st.candles)
		out[sym] = window
	}
	return out
}

// RestoreWindows seeds candle windows from persisted state. Existing
// windows are replaced wholesale; windows longer than maxWindow are
// truncated from the front.
func (s *Store) RestoreWindows(windows map[string][]model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, candles := range windows {
		if len(candles) > s.maxWindow {
			candles = candles[len(candles)-s.maxWindow:]
		}
		window := make([]model.Candle, len(candles))
		copy(window, candles)
		st := s.state(sym)
		st.candles = window
	}
}
