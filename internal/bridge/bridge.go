// Package bridge implements the streaming ingestion loop: per cycle it
// fetches candles and ticks for every watch-list symbol from the market-data
// source and pushes them to the decision server ingress.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// ErrFatalIngestion marks startup failures (login, symbol select). The
// bridge does not run partially initialized; recovery is the supervisor's
// restart.
var ErrFatalIngestion = errors.New("bridge: fatal ingestion error")

// Config holds the bridge loop parameters.
type Config struct {
	Symbols        []string
	Timeframe      string
	CandleCount    int           // trailing window size fetched per cycle
	Interval       time.Duration // target cycle period
	RequestTimeout time.Duration // per fetch/push deadline
	Cooldown       time.Duration // pause after a whole-cycle failure
}

func (c *Config) applyDefaults() {
	if c.CandleCount <= 0 {
		c.CandleCount = 150
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
}

// Bridge runs the fetch-and-push loop for a fixed watch-list.
type Bridge struct {
	cfg     Config
	source  model.MarketSource
	pusher  *Pusher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a bridge. metrics may be nil (e.g. in tests).
func New(cfg Config, source model.MarketSource, pusher *Pusher, log *slog.Logger, m *metrics.Metrics) (*Bridge, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("bridge: empty watch-list")
	}
	cfg.applyDefaults()
	return &Bridge{cfg: cfg, source: source, pusher: pusher, log: log, metrics: m}, nil
}

// Run initializes the source and loops until ctx is cancelled. Startup
// failures return ErrFatalIngestion; after that the loop never returns an
// error, only logs and keeps going.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.selectSymbols(ctx); err != nil {
		return err
	}
	b.log.Info("bridge started",
		slog.Int("symbols", len(b.cfg.Symbols)),
		slog.String("timeframe", b.cfg.Timeframe),
		slog.Duration("interval", b.cfg.Interval))

	for {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		pushed := b.runCycle(ctx)
		elapsed := time.Since(start)

		if b.metrics != nil {
			b.metrics.BridgeCycleDur.Observe(elapsed.Seconds())
		}

		if pushed == 0 {
			// Every symbol failed: treat as connectivity loss, back off.
			b.log.Warn("whole cycle failed, cooling down",
				slog.Duration("cooldown", b.cfg.Cooldown))
			if b.metrics != nil {
				b.metrics.BridgeCooldownsTotal.Inc()
			}
			if !sleepCtx(ctx, b.cfg.Cooldown) {
				return nil
			}
			continue
		}

		if wait := b.cfg.Interval - elapsed; wait > 0 {
			if !sleepCtx(ctx, wait) {
				return nil
			}
		}
	}
}

// selectSymbols subscribes every watch-list symbol at the source. Any
// failure aborts startup.
func (b *Bridge) selectSymbols(ctx context.Context) error {
	for _, symbol := range b.cfg.Symbols {
		reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
		err := b.source.SelectSymbol(reqCtx, symbol)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: select %s: %v", ErrFatalIngestion, symbol, err)
		}
	}
	return nil
}

// runCycle fans out fetch+push for every symbol concurrently and returns
// the number of payloads accepted by the server. Per-symbol failures are
// logged and skipped; they never abort the cycle.
func (b *Bridge) runCycle(ctx context.Context) int {
	var pushed atomic.Int64
	var wg sync.WaitGroup
	for _, symbol := range b.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if b.pushSymbol(ctx, symbol) {
				pushed.Add(1)
			}
		}(symbol)
	}
	wg.Wait()
	return int(pushed.Load())
}

// pushSymbol fetches candles and tick for one symbol and pushes the payload.
// Each of the three requests gets its own RequestTimeout deadline, so a slow
// candle fetch cannot eat the tick and push budget. Returns true when the
// server accepted the payload.
func (b *Bridge) pushSymbol(ctx context.Context, symbol string) bool {
	candleCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	candles, err := b.source.GetCandles(candleCtx, symbol, b.cfg.Timeframe, b.cfg.CandleCount)
	cancel()
	if err != nil || len(candles) == 0 {
		b.skip(symbol, "candles", err)
		return false
	}

	tickCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	tick, err := b.source.GetTick(tickCtx, symbol)
	cancel()
	if err != nil {
		b.skip(symbol, "tick", err)
		return false
	}

	payload := model.BridgePayload{
		Symbol:    symbol,
		Candles:   candles,
		Tick:      tick,
		Timestamp: time.Now().Unix(),
	}
	pushCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()
	res, err := b.pusher.Push(pushCtx, payload)
	if b.metrics != nil {
		b.metrics.BridgePushesTotal.WithLabelValues(string(res.Status)).Inc()
	}
	if err != nil {
		b.log.Warn("push failed",
			slog.String("symbol", symbol),
			slog.String("status", string(res.Status)),
			slog.Int("code", res.Code),
			slog.String("error", err.Error()))
		if b.metrics != nil {
			b.metrics.BridgeSymbolsSkipped.Inc()
		}
		return false
	}
	return true
}

func (b *Bridge) skip(symbol, stage string, err error) {
	attrs := []any{slog.String("symbol", symbol), slog.String("stage", stage)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	} else {
		attrs = append(attrs, slog.String("error", "empty result"))
	}
	b.log.Warn("symbol skipped this cycle", attrs...)
	if b.metrics != nil {
		b.metrics.BridgeSymbolsSkipped.Inc()
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
