package model

import "context"

// ── Market Data Port Interfaces ──
// These interfaces decouple the bridge and the martingale planner from
// concrete market-data implementations (broker HTTP API, simulator).

// MarketSource supplies candles and ticks for the ingestion bridge.
type MarketSource interface {
	// SelectSymbol subscribes/activates a symbol at the source.
	// Called once per watch-list symbol during bridge startup.
	SelectSymbol(ctx context.Context, symbol string) error

	// GetCandles returns up to count most recent candles for the timeframe,
	// ordered most-recent-last. An empty slice means no data this cycle.
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)

	// GetTick returns the current tick for the symbol.
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

// QuoteProvider supplies live quotes and instrument metadata for order plans.
type QuoteProvider interface {
	// Quote returns the latest tick for the symbol.
	Quote(ctx context.Context, symbol string) (Tick, error)

	// Instrument returns point size and tick value for the symbol.
	Instrument(ctx context.Context, symbol string) (InstrumentInfo, error)
}
