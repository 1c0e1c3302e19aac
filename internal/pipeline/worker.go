package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-pipeline-go/internal/broker"
	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/models"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Worker consumes queued trade identifiers and drives each trade through
// its lifecycle against the broker adapter. Multiple workers may run in
// parallel; the PENDING re-check plus conditional updates guarantee that a
// redelivered or raced job never reaches the brokerage twice.
type Worker struct {
	store  *store.TradeStore
	broker broker.Broker
	queue  queue.Queue
	cfg    *config.Pipeline
	logger *zap.Logger
}

// NewWorker creates an execution worker pool.
func NewWorker(st *store.TradeStore, b broker.Broker, q queue.Queue, cfg *config.Pipeline, logger *zap.Logger) *Worker {
	return &Worker{
		store:  st,
		broker: b,
		queue:  q,
		cfg:    cfg,
		logger: logger.Named("worker"),
	}
}

// Run starts the configured number of consumers and blocks until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	count := w.cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	w.logger.Info("Starting execution workers",
		zap.Int("count", count),
		zap.String("broker", w.broker.Name()),
	)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := w.queue.Consume(ctx, w.Process); err != nil {
				w.logger.Error("Consumer stopped with error", zap.Int("consumer", id), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
	w.logger.Info("Execution workers stopped")
}

// Process handles one delivered job. Execution-time failures are absorbed
// into the trade's REJECTED state and acked; a returned error means the
// job itself could not be handled and should be parked.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	l := w.logger.With(zap.Uint("trade_id", job.TradeID))

	trade, err := w.store.Get(ctx, job.TradeID)
	if errors.Is(err, store.ErrNotFound) {
		l.Warn("Dropping job for unknown trade")
		return nil
	}
	if err != nil {
		return err
	}

	// Idempotent guard against duplicate queue delivery: anything other
	// than PENDING means this trade was already picked up or resolved.
	if trade.Status != models.StatusPending {
		l.Info("Skipping job for trade not in PENDING state",
			zap.String("status", string(trade.Status)),
			zap.Error(ErrInvalidState),
		)
		return nil
	}

	moved, err := w.store.MarkSubmitted(ctx, trade.ID, time.Now())
	if err != nil {
		return err
	}
	if !moved {
		// Another worker won the conditional update.
		l.Info("Lost submission race, skipping")
		return nil
	}

	result, err := w.broker.PlaceOrder(ctx, brokerRequest(trade))
	switch {
	case err != nil:
		// Infrastructure failure: count it against the retry budget.
		l.Warn("Broker unavailable, rejecting trade", zap.Error(err))
		if _, merr := w.store.MarkRejected(ctx, trade.ID, err.Error(), true, w.cfg.MaxRetries); merr != nil {
			return merr
		}
		return nil

	case result.Rejected():
		// Business rejection: recorded verbatim, retried only on explicit
		// user or operator action.
		l.Info("Broker rejected trade", zap.String("reason", result.Message))
		if _, merr := w.store.MarkRejected(ctx, trade.ID, result.Message, false, w.cfg.MaxRetries); merr != nil {
			return merr
		}
		return nil

	default:
		fill := buildFill(trade, result)
		if _, merr := w.store.MarkFilled(ctx, trade.ID, fill); merr != nil {
			return merr
		}
		l.Info("Trade filled",
			zap.String("broker_order_id", fill.BrokerOrderID),
			zap.Int64("filled_quantity", fill.Quantity),
			zap.Bool("partial", fill.Partial),
		)
		return nil
	}
}

// brokerRequest maps a trade's order parameters onto the brokerage
// vocabulary.
func brokerRequest(t *models.Trade) broker.PlaceOrderRequest {
	req := broker.PlaceOrderRequest{
		Symbol:   t.Symbol,
		Side:     string(t.Side),
		Quantity: t.Quantity,
	}

	switch t.Type {
	case models.OrderTypeLimit:
		req.OrderType = broker.OrderTypeLimit
		req.Price = priceOf(t.LimitPrice)
	case models.OrderTypeStopLoss:
		req.OrderType = broker.OrderTypeStop
		req.Price = priceOf(t.StopPrice)
	case models.OrderTypeTakeProfit:
		req.OrderType = broker.OrderTypeTakeProfit
		if p := priceOf(t.LimitPrice); p != nil {
			req.Price = p
		} else {
			req.Price = priceOf(t.StopPrice)
		}
	default:
		req.OrderType = broker.OrderTypeMarket
	}
	return req
}

func priceOf(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// buildFill records the brokerage's reported fill data as authoritative,
// falling back to the requested quantity and limit price only when the
// response omits them.
func buildFill(t *models.Trade, result *broker.PlaceOrderResult) store.Fill {
	quantity := result.FilledQuantity
	if quantity <= 0 {
		quantity = t.Quantity
	}

	avg := result.AvgPrice
	if !avg.Valid && t.LimitPrice.Valid {
		avg = t.LimitPrice
	}

	return store.Fill{
		Quantity:      quantity,
		AvgPrice:      avg,
		BrokerOrderID: result.OrderID,
		At:            time.Now(),
		Partial:       quantity < t.Quantity,
	}
}
