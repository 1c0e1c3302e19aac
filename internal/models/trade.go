package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderType is the kind of order sent to the brokerage.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	StatusPending         TradeStatus = "PENDING"
	StatusSubmitted       TradeStatus = "SUBMITTED"
	StatusFilled          TradeStatus = "FILLED"
	StatusPartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	StatusRejected        TradeStatus = "REJECTED"
	StatusCancelled       TradeStatus = "CANCELLED"
	StatusExpired         TradeStatus = "EXPIRED"
)

// Trade represents a single buy/sell order tracked through its lifecycle.
// Rows are created by the intake service and mutated only by the execution
// worker and the retry controller.
type Trade struct {
	gorm.Model
	UserID          uint `gorm:"index;not null" json:"user_id"`
	BrokerAccountID uint `gorm:"index;not null" json:"broker_account_id"`
	InstrumentID    uint `gorm:"index;not null" json:"instrument_id"`
	// Symbol is denormalized from the instrument so the worker can build
	// the broker request without a join.
	Symbol string `gorm:"not null" json:"symbol"`

	Type       OrderType           `gorm:"type:varchar(20);not null" json:"type"`
	Side       OrderSide           `gorm:"type:varchar(10);not null" json:"side"`
	Quantity   int64               `gorm:"not null" json:"quantity"`
	LimitPrice decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"limit_price"`
	StopPrice  decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"stop_price"`

	Status         TradeStatus         `gorm:"type:varchar(20);index;not null" json:"status"`
	FilledQuantity int64               `json:"filled_quantity"`
	AvgFillPrice   decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"avg_fill_price"`
	BrokerOrderID  string              `json:"broker_order_id"`
	FailureReason  string              `json:"failure_reason"`
	RetryCount     int                 `gorm:"not null;default:0" json:"retry_count"`

	AutoTrade  bool  `json:"auto_trade"`
	StrategyID *uint `json:"strategy_id,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// IsTerminal reports whether the trade is in a state that permits no
// further transitions.
func (t *Trade) IsTerminal() bool {
	return t.Status == StatusFilled || t.Status == StatusCancelled || t.Status == StatusExpired
}

// IsCancellable reports whether a user may still cancel the trade.
func (t *Trade) IsCancellable() bool {
	switch t.Status {
	case StatusPending, StatusSubmitted, StatusPartiallyFilled:
		return true
	}
	return false
}

// CancellableStatuses are the states from which a user-initiated cancel is
// permitted.
var CancellableStatuses = []TradeStatus{StatusPending, StatusSubmitted, StatusPartiallyFilled}

// NonTerminalStatuses are the states an expiry sweep may still move.
var NonTerminalStatuses = []TradeStatus{StatusPending, StatusSubmitted, StatusPartiallyFilled, StatusRejected}
