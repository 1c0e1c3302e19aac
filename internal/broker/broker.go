// Package broker defines the brokerage order-placement boundary and
// provides a REST implementation and an in-process simulator.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Order vocabulary of the brokerage API. The pipeline maps its own order
// types onto these before calling PlaceOrder.
const (
	OrderTypeMarket     = "MARKET"
	OrderTypeLimit      = "LIMIT"
	OrderTypeStop       = "STOP"
	OrderTypeTakeProfit = "TAKE_PROFIT"

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// ErrUnavailable classifies infrastructure failures (network errors,
// timeouts, 5xx responses). Callers detect it with errors.Is; anything
// wrapped in it is retryable.
var ErrUnavailable = errors.New("brokerage unavailable")

// PlaceOrderRequest carries the normalized order parameters.
type PlaceOrderRequest struct {
	Symbol    string
	Side      string
	OrderType string
	Quantity  int64
	// Price is the limit or stop price; nil for market orders.
	Price *decimal.Decimal
}

// PlaceOrderResult is the brokerage's answer to a placement attempt.
// StatusFailed carries a business rejection (e.g. insufficient funds) in
// Message; infrastructure failures are returned as errors instead.
type PlaceOrderResult struct {
	Status  string
	OrderID string
	Message string
	// Fill data as reported by the brokerage. Zero values mean the
	// brokerage did not report them.
	FilledQuantity int64
	AvgPrice       decimal.NullDecimal
}

// Rejected reports whether the brokerage refused the order for a business
// reason.
func (r *PlaceOrderResult) Rejected() bool {
	return r.Status == StatusFailed
}

// Broker abstracts the brokerage's order-placement API.
type Broker interface {
	// Name returns the broker identifier (e.g. "rest", "simulator").
	Name() string

	// PlaceOrder submits the order. It must be called at most once per
	// execution attempt; implementations do not retry internally.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error)

	// Ping checks connectivity to the brokerage.
	Ping(ctx context.Context) error
}
