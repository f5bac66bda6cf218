package server

import (
	"context"
	"fmt"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/cache"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// CacheQuotes serves order-plan quotes from the candle cache's latest ticks
// plus a configured instrument table, so the decision server never calls the
// feed directly.
type CacheQuotes struct {
	store       *cache.Store
	instruments map[string]model.InstrumentInfo
}

// NewCacheQuotes creates a QuoteProvider backed by the cache.
func NewCacheQuotes(store *cache.Store, instruments map[string]model.InstrumentInfo) *CacheQuotes {
	return &CacheQuotes{store: store, instruments: instruments}
}

// Quote returns the latest bridge-pushed tick for symbol.
func (q *CacheQuotes) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	tick, ok := q.store.Tick(symbol)
	if !ok {
		return model.Tick{}, fmt.Errorf("no tick cached for %s", symbol)
	}
	return tick, nil
}

// Instrument returns the configured metadata for symbol.
func (q *CacheQuotes) Instrument(ctx context.Context, symbol string) (model.InstrumentInfo, error) {
	info, ok := q.instruments[symbol]
	if !ok {
		return model.InstrumentInfo{}, fmt.Errorf("no instrument spec for %s", symbol)
	}
	return info, nil
}
