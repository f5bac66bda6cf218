package execution

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/martingale"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// PaperGateway simulates order execution against live quotes without real
// broker calls. Buys fill at the ask, sells at the bid; closing crosses the
// spread the other way. Profit is computed from the instrument's point size
// and tick value.
type PaperGateway struct {
	quotes model.QuoteProvider

	mu   sync.Mutex
	seq  int64
	open map[int64]OrderResult
}

// NewPaperGateway creates a paper gateway filling from quotes.
func NewPaperGateway(quotes model.QuoteProvider) *PaperGateway {
	return &PaperGateway{
		quotes: quotes,
		open:   make(map[int64]OrderResult),
	}
}

func (p *PaperGateway) SubmitMarketOrder(ctx context.Context, plan martingale.OrderPlan) (OrderResult, error) {
	if plan.Lot <= 0 {
		return OrderResult{}, &GatewayError{Code: CodeInvalidVolume, Message: "lot must be positive"}
	}
	tick, err := p.quotes.Quote(ctx, plan.Symbol)
	if err != nil {
		return OrderResult{}, &GatewayError{Code: CodeQuoteUnavailable, Message: err.Error()}
	}

	fill := tick.Ask
	if plan.Direction == martingale.Sell {
		fill = tick.Bid
	}

	p.mu.Lock()
	p.seq++
	res := OrderResult{
		OrderID:     p.seq,
		Symbol:      plan.Symbol,
		Direction:   plan.Direction,
		Lot:         plan.Lot,
		FilledPrice: fill,
		TP:          plan.TP,
		SL:          plan.SL,
		OpenedAt:    time.Now(),
	}
	p.open[res.OrderID] = res
	p.mu.Unlock()

	log.Printf("[paper] filled %s %s lot=%v at %v (tp=%v sl=%v) order=%d",
		plan.Direction, plan.Symbol, plan.Lot, fill, plan.TP, plan.SL, res.OrderID)
	return res, nil
}

func (p *PaperGateway) ClosePosition(ctx context.Context, orderID int64) (ClosedPosition, error) {
	p.mu.Lock()
	pos, ok := p.open[orderID]
	p.mu.Unlock()
	if !ok {
		return ClosedPosition{}, &GatewayError{Code: CodeUnknownPosition, Message: "no open position with that id"}
	}

	tick, err := p.quotes.Quote(ctx, pos.Symbol)
	if err != nil {
		return ClosedPosition{}, &GatewayError{Code: CodeQuoteUnavailable, Message: err.Error()}
	}
	info, err := p.quotes.Instrument(ctx, pos.Symbol)
	if err != nil || info.Point <= 0 {
		return ClosedPosition{}, &GatewayError{Code: CodeQuoteUnavailable, Message: "instrument metadata unavailable"}
	}

	// A buy exits on the bid, a sell on the ask.
	closePrice := tick.Bid
	points := (closePrice - pos.FilledPrice) / info.Point
	if pos.Direction == martingale.Sell {
		closePrice = tick.Ask
		points = (pos.FilledPrice - closePrice) / info.Point
	}
	profit := round2(points * info.TickValue * pos.Lot)

	p.mu.Lock()
	delete(p.open, orderID)
	p.mu.Unlock()

	log.Printf("[paper] closed order=%d %s at %v profit=%.2f", orderID, pos.Symbol, closePrice, profit)
	return ClosedPosition{
		OrderID:    pos.OrderID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Lot:        pos.Lot,
		OpenPrice:  pos.FilledPrice,
		ClosePrice: closePrice,
		Profit:     profit,
		ClosedAt:   time.Now(),
	}, nil
}

// OpenPositions returns a snapshot of the currently open positions.
func (p *PaperGateway) OpenPositions() []OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderResult, 0, len(p.open))
	for _, pos := range p.open {
		out = append(out, pos)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
