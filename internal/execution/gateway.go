// Package execution places and closes orders through a broker gateway and
// feeds realized results back into the martingale registry.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/martingale"
)

// Gateway failure codes.
const (
	CodeQuoteUnavailable = 1
	CodeUnknownPosition  = 2
	CodeInvalidVolume    = 3
)

// GatewayError is a typed order failure. A GatewayError never mutates
// martingale state; only a closed position's realized profit does.
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: code=%d %s", e.Code, e.Message)
}

// OrderResult describes a filled market order.
type OrderResult struct {
	OrderID     int64                `json:"order_id"`
	Symbol      string               `json:"symbol"`
	Direction   martingale.Direction `json:"direction"`
	Lot         float64              `json:"lot"`
	FilledPrice float64              `json:"filled_price"`
	TP          float64              `json:"tp"`
	SL          float64              `json:"sl"`
	OpenedAt    time.Time            `json:"opened_at"`
}

// ClosedPosition describes a position after it has been closed, including
// the realized profit in account currency.
type ClosedPosition struct {
	OrderID    int64                `json:"order_id"`
	Symbol     string               `json:"symbol"`
	Direction  martingale.Direction `json:"direction"`
	Lot        float64              `json:"lot"`
	OpenPrice  float64              `json:"open_price"`
	ClosePrice float64              `json:"close_price"`
	Profit     float64              `json:"profit"`
	ClosedAt   time.Time            `json:"closed_at"`
}

// OrderGateway is the broker-side order contract. Implementations return
// *GatewayError for rejections so callers can inspect the code.
type OrderGateway interface {
	// SubmitMarketOrder fills the plan at the current market price.
	SubmitMarketOrder(ctx context.Context, plan martingale.OrderPlan) (OrderResult, error)

	// ClosePosition closes an open position at the current market price.
	ClosePosition(ctx context.Context, orderID int64) (ClosedPosition, error)
}
