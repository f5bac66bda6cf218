package martingale

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// defaultDistancePoints is the safe fallback TP/SL distance when lot or
// tick value is non-positive and the target-based distance is undefined.
const defaultDistancePoints = 500

// ErrInstrumentUnavailable is returned when the live quote or instrument
// metadata needed for an order plan cannot be obtained. No state mutation
// occurs when it is returned.
var ErrInstrumentUnavailable = errors.New("martingale: instrument unavailable")

// Direction is the side of a planned order.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Buy, Sell:
		return Direction(s), nil
	}
	return "", fmt.Errorf("martingale: invalid direction %q", s)
}

// OrderPlan is a fully priced order: entry, take-profit, stop-loss, and lot.
type OrderPlan struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Entry     float64   `json:"entry"`
	TP        float64   `json:"tp"`
	SL        float64   `json:"sl"`
	Lot       float64   `json:"lot"`
}

// ComputeOrderPlan prices the next trade of the cycle from a live quote and
// instrument metadata. The TP distance recovers all accumulated losses plus
// the profit target; the SL distance risks exactly one profit target.
func (s *State) ComputeOrderPlan(ctx context.Context, symbol string, dir Direction, quotes model.QuoteProvider) (OrderPlan, error) {
	tick, err := quotes.Quote(ctx, symbol)
	if err != nil {
		return OrderPlan{}, fmt.Errorf("%w: quote %s: %v", ErrInstrumentUnavailable, symbol, err)
	}
	info, err := quotes.Instrument(ctx, symbol)
	if err != nil {
		return OrderPlan{}, fmt.Errorf("%w: metadata %s: %v", ErrInstrumentUnavailable, symbol, err)
	}
	if info.Point <= 0 || tick.Bid <= 0 || tick.Ask <= 0 {
		return OrderPlan{}, fmt.Errorf("%w: degenerate quote for %s (point=%v bid=%v ask=%v)",
			ErrInstrumentUnavailable, symbol, info.Point, tick.Bid, tick.Ask)
	}

	// The distances are priced from the volume actually sent to the broker,
	// so the lot is snapped to the instrument's step first.
	lot := snapToLotStep(s.CurrentLot(), info.LotStep)
	tpPoints := distancePoints(s.RecoveryTarget(), lot, info.TickValue)
	slPoints := distancePoints(s.targetAmount, lot, info.TickValue)

	plan := OrderPlan{Symbol: symbol, Direction: dir, Lot: lot}
	switch dir {
	case Buy:
		plan.Entry = tick.Ask
		plan.TP = tick.Ask + tpPoints*info.Point
		plan.SL = tick.Ask - slPoints*info.Point
	case Sell:
		plan.Entry = tick.Bid
		plan.TP = tick.Bid - tpPoints*info.Point
		plan.SL = tick.Bid + slPoints*info.Point
	default:
		return OrderPlan{}, fmt.Errorf("martingale: invalid direction %q", dir)
	}
	return plan, nil
}

// distancePoints converts an account-currency amount into a price distance
// in points. Non-positive lot or tick value falls back to the safe default.
func distancePoints(amount, lot, tickValue float64) float64 {
	if lot <= 0 || tickValue <= 0 {
		return defaultDistancePoints
	}
	return amount / (lot * tickValue)
}

// snapToLotStep rounds lot to the nearest multiple of the instrument's
// volume step, never below one step. A non-positive step leaves the lot
// unchanged (instruments without metadata).
func snapToLotStep(lot, step float64) float64 {
	if step <= 0 {
		return lot
	}
	snapped := math.Round(lot/step) * step
	if snapped < step {
		snapped = step
	}
	return snapped
}
