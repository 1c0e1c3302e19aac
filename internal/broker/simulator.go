package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Simulator is an in-process Broker that fills every order immediately.
// Limit and stop orders fill at their own price; market orders fill at the
// configured mark price. Used for dry-run mode and tests.
type Simulator struct {
	mu        sync.Mutex
	markPrice decimal.Decimal
	placed    int
	logger    *zap.Logger
}

var _ Broker = (*Simulator)(nil)

// NewSimulator creates a simulator filling market orders at markPrice.
func NewSimulator(markPrice decimal.Decimal, logger *zap.Logger) *Simulator {
	return &Simulator{
		markPrice: markPrice,
		logger:    logger.Named("broker-simulator"),
	}
}

// Name returns the broker identifier.
func (s *Simulator) Name() string { return "simulator" }

// Ping always succeeds.
func (s *Simulator) Ping(context.Context) error { return nil }

// PlaceOrder fills the order without leaving the process.
func (s *Simulator) PlaceOrder(_ context.Context, order PlaceOrderRequest) (*PlaceOrderResult, error) {
	if order.Quantity <= 0 {
		return &PlaceOrderResult{
			Status:  StatusFailed,
			Message: fmt.Sprintf("invalid quantity %d", order.Quantity),
		}, nil
	}

	fillPrice := s.markPrice
	if order.Price != nil {
		fillPrice = *order.Price
	}

	s.mu.Lock()
	s.placed++
	s.mu.Unlock()

	orderID := uuid.NewString()
	s.logger.Info("Simulated fill",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int64("quantity", order.Quantity),
		zap.String("price", fillPrice.String()),
		zap.String("order_id", orderID),
	)

	return &PlaceOrderResult{
		Status:         StatusSuccess,
		OrderID:        orderID,
		FilledQuantity: order.Quantity,
		AvgPrice:       decimal.NewNullDecimal(fillPrice),
	}, nil
}

// PlacedOrders returns how many orders the simulator has accepted.
func (s *Simulator) PlacedOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placed
}
