package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/martingale"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/notify"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/store/sqlite"
)

// ScoreUpdate is one fresh composite score for a symbol.
type ScoreUpdate struct {
	Symbol string
	Score  model.CompositeScore
}

// Config controls one trader's decision loop.
type Config struct {
	Key    martingale.Key
	Symbol string

	// Threshold is the minimum |score-50| before a position is opened.
	// Defaults to 15.
	Threshold float64

	// PollInterval is how often open positions are checked against their
	// TP/SL levels. Defaults to 1s.
	PollInterval time.Duration

	// UpdateBuffer sizes the score update queue. Defaults to 16.
	UpdateBuffer int
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 15
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 16
	}
}

// Deps are the trader's collaborators. Journal, Notifier, and Metrics are
// optional.
type Deps struct {
	Registry *martingale.Registry
	Gateway  OrderGateway
	Quotes   model.QuoteProvider
	Journal  *sqlite.Store
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Trader consumes score updates for one (user, magic) key and drives the
// martingale cycle: it opens at most one position at a time when the score
// clears the threshold, watches TP/SL, and settles realized profit back into
// the registry on close.
type Trader struct {
	cfg  Config
	deps Deps

	updates chan ScoreUpdate

	mu       sync.Mutex
	position *OrderResult
}

// New creates a trader for cfg.Key on cfg.Symbol.
func New(cfg Config, deps Deps) (*Trader, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("execution: trader needs a symbol")
	}
	if deps.Registry == nil || deps.Gateway == nil || deps.Quotes == nil {
		return nil, errors.New("execution: trader needs a registry, gateway, and quote provider")
	}
	cfg.applyDefaults()
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Trader{
		cfg:     cfg,
		deps:    deps,
		updates: make(chan ScoreUpdate, cfg.UpdateBuffer),
	}, nil
}

// OnScore enqueues a fresh score without blocking. Updates for other symbols
// and updates arriving faster than the trader consumes them are dropped.
func (t *Trader) OnScore(symbol string, score model.CompositeScore) {
	if symbol != t.cfg.Symbol {
		return
	}
	select {
	case t.updates <- ScoreUpdate{Symbol: symbol, Score: score}:
	default:
	}
}

// Position returns the currently open position, if any.
func (t *Trader) Position() (OrderResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position == nil {
		return OrderResult{}, false
	}
	return *t.position, true
}

// Run consumes score updates and polls open positions until ctx is cancelled.
func (t *Trader) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.deps.Log.Info("trader started",
		"user", t.cfg.Key.User, "magic", t.cfg.Key.Magic,
		"symbol", t.cfg.Symbol, "threshold", t.cfg.Threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-t.updates:
			t.maybeOpen(ctx, upd.Score)
		case <-ticker.C:
			t.checkExit(ctx)
		}
	}
}

// maybeOpen opens a position when no position is held and the score bias
// clears the threshold. A disabled cycle or a rejected order leaves all
// state untouched.
func (t *Trader) maybeOpen(ctx context.Context, score model.CompositeScore) {
	t.mu.Lock()
	held := t.position != nil
	t.mu.Unlock()
	if held {
		return
	}

	bias := score.Score - 50
	if math.Abs(bias) < t.cfg.Threshold {
		return
	}
	dir := martingale.Buy
	if bias < 0 {
		dir = martingale.Sell
	}

	plan, enabled, err := t.deps.Registry.ComputeOrderPlan(ctx, t.cfg.Key, t.cfg.Symbol, dir, t.deps.Quotes)
	if !enabled {
		return
	}
	if err != nil {
		t.deps.Log.Warn("order plan unavailable", "symbol", t.cfg.Symbol, "error", err)
		return
	}

	res, err := t.deps.Gateway.SubmitMarketOrder(ctx, plan)
	if err != nil {
		if t.deps.Metrics != nil {
			t.deps.Metrics.OrdersTotal.WithLabelValues("rejected").Inc()
		}
		t.deps.Log.Warn("order rejected", "symbol", t.cfg.Symbol, "direction", dir, "error", err)
		return
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.OrdersTotal.WithLabelValues("filled").Inc()
	}

	t.mu.Lock()
	t.position = &res
	t.mu.Unlock()

	t.deps.Log.Info("position opened",
		"order", res.OrderID, "symbol", res.Symbol, "direction", res.Direction,
		"lot", res.Lot, "entry", res.FilledPrice, "tp", res.TP, "sl", res.SL)
}

// checkExit closes the open position once the exit-side quote crosses its
// TP or SL level, then settles the realized profit.
func (t *Trader) checkExit(ctx context.Context) {
	t.mu.Lock()
	pos := t.position
	t.mu.Unlock()
	if pos == nil {
		return
	}

	tick, err := t.deps.Quotes.Quote(ctx, pos.Symbol)
	if err != nil {
		return
	}

	var hit bool
	switch pos.Direction {
	case martingale.Buy:
		hit = tick.Bid >= pos.TP || tick.Bid <= pos.SL
	case martingale.Sell:
		hit = tick.Ask <= pos.TP || tick.Ask >= pos.SL
	}
	if !hit {
		return
	}

	closed, err := t.deps.Gateway.ClosePosition(ctx, pos.OrderID)
	if err != nil {
		t.deps.Log.Warn("close failed, position kept", "order", pos.OrderID, "error", err)
		return
	}

	t.mu.Lock()
	t.position = nil
	t.mu.Unlock()

	t.settle(ctx, closed)
}

// settle feeds a closed position's realized profit into the martingale
// registry, journals the trade, and raises an alert when the cycle hits its
// step cap.
func (t *Trader) settle(ctx context.Context, closed ClosedPosition) {
	result, ok := t.deps.Registry.OnPositionClosed(t.cfg.Key, closed.Profit)
	if !ok {
		t.deps.Log.Warn("position closed for disabled cycle",
			"user", t.cfg.Key.User, "magic", t.cfg.Key.Magic, "profit", closed.Profit)
		return
	}

	if t.deps.Metrics != nil {
		t.deps.Metrics.MartinTransitionsTotal.WithLabelValues(string(result.Action)).Inc()
	}
	if t.deps.Journal != nil {
		err := t.deps.Journal.AppendTrade(sqlite.JournalEntry{
			User:      t.cfg.Key.User,
			Magic:     t.cfg.Key.Magic,
			Symbol:    closed.Symbol,
			Direction: string(closed.Direction),
			Step:      result.TakenStep,
			Lot:       closed.Lot,
			Profit:    closed.Profit,
			Action:    string(result.Action),
			ClosedAt:  closed.ClosedAt,
		})
		if err != nil {
			t.deps.Log.Warn("journal append failed", "error", err)
		}
	}

	t.deps.Log.Info("position settled",
		"order", closed.OrderID, "symbol", closed.Symbol, "profit", closed.Profit,
		"action", result.Action, "next_step", result.Step, "next_lot", result.Lot)

	if result.Action == martingale.ActionMaxReached && t.deps.Notifier != nil {
		alert := notify.Alert{
			Level: notify.AlertCritical,
			Title: "Martingale max step reached",
			Message: fmt.Sprintf("user=%s magic=%d symbol=%s total_loss=%.2f, cycle reset to step 1",
				t.cfg.Key.User, t.cfg.Key.Magic, closed.Symbol, result.TotalLoss),
		}
		if err := t.deps.Notifier.Send(ctx, alert); err != nil {
			t.deps.Log.Warn("alert delivery failed", "error", err)
		}
	}
}
