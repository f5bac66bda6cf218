// Package sim is a deterministic random-walk market-data source for offline
// runs and tests. It implements the same ports as the broker feed client, so
// the bridge and the paper trader can run without credentials.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

const (
	defaultStartPrice = 1.1000
	defaultSpread     = 0.0002
	stepBps           = 8 // max per-candle move in basis points
)

// Source generates candles and ticks with a seeded random walk. Safe for
// concurrent use; each symbol keeps its own walk state.
type Source struct {
	mu      sync.Mutex
	rng     *rand.Rand
	symbols map[string]*walk
}

type walk struct {
	price   float64
	candles []model.Candle
}

// New creates a simulator. The same seed always produces the same series.
func New(seed int64) *Source {
	return &Source{
		rng:     rand.New(rand.NewSource(seed)),
		symbols: make(map[string]*walk),
	}
}

// SelectSymbol initializes the walk for symbol with a 200-candle history.
func (s *Source) SelectSymbol(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return nil
	}
	w := &walk{price: defaultStartPrice}
	now := time.Now().Unix()
	start := now - 200*60
	for t := start; t < now; t += 60 {
		w.candles = append(w.candles, s.nextCandle(w, t))
	}
	s.symbols[symbol] = w
	return nil
}

// GetCandles returns the most recent count candles, most-recent-last, and
// advances the walk by one candle per call.
func (s *Source) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: symbol %s not selected", symbol)
	}

	last := w.candles[len(w.candles)-1]
	w.candles = append(w.candles, s.nextCandle(w, last.Time+60))
	if len(w.candles) > 1000 {
		w.candles = w.candles[len(w.candles)-1000:]
	}

	if count > len(w.candles) {
		count = len(w.candles)
	}
	out := make([]model.Candle, count)
	copy(out, w.candles[len(w.candles)-count:])
	return out, nil
}

// GetTick returns a tick at the current walk price with a fixed spread.
func (s *Source) GetTick(ctx context.Context, symbol string) (model.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.symbols[symbol]
	if !ok {
		return model.Tick{}, fmt.Errorf("sim: symbol %s not selected", symbol)
	}
	mid := w.price
	return model.Tick{
		Symbol: symbol,
		Bid:    round5(mid - defaultSpread/2),
		Ask:    round5(mid + defaultSpread/2),
		Last:   round5(mid),
		Time:   time.Now().Unix(),
	}, nil
}

// Quote satisfies model.QuoteProvider. Symbols are selected lazily so the
// paper trader can quote instruments the bridge never subscribed.
func (s *Source) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	if err := s.SelectSymbol(ctx, symbol); err != nil {
		return model.Tick{}, err
	}
	return s.GetTick(ctx, symbol)
}

// Instrument returns FX-style metadata for any symbol.
func (s *Source) Instrument(ctx context.Context, symbol string) (model.InstrumentInfo, error) {
	return model.InstrumentInfo{
		Symbol:    symbol,
		Point:     0.0001,
		TickValue: 10,
		LotStep:   0.01,
	}, nil
}

// nextCandle advances the walk one bar. Caller holds the lock.
func (s *Source) nextCandle(w *walk, ts int64) model.Candle {
	open := w.price
	move := (s.rng.Float64()*2 - 1) * float64(stepBps) / 10000 * open
	closeP := open + move
	high := math.Max(open, closeP) + s.rng.Float64()*0.00005
	low := math.Min(open, closeP) - s.rng.Float64()*0.00005
	w.price = closeP
	return model.Candle{
		Time:   ts,
		Open:   round5(open),
		High:   round5(high),
		Low:    round5(low),
		Close:  round5(closeP),
		Volume: 50 + int64(s.rng.Intn(200)),
	}
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
