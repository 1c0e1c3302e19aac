package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"trade-pipeline-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000" // How long a signed request is valid in milliseconds

// RestClient is a client for the brokerage REST API.
// It implements the Broker interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	timeout   time.Duration
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ Broker = (*RestClient)(nil)

// NewRestClient creates a new brokerage REST API client.
func NewRestClient(cfg *config.Broker, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:    logger.Named("broker"),
		limiter:   limiter,
	}
}

// Name returns the broker identifier.
func (c *RestClient) Name() string { return "rest" }

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Ping checks connectivity to the brokerage.
func (c *RestClient) Ping(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := c.client.R().SetContext(ctx).Get("/ping")
	if err != nil {
		return fmt.Errorf("ping failed: %w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping failed with status %s: %w", resp.Status(), ErrUnavailable)
	}
	return nil
}

// placeOrderResponse is the wire shape of a placement answer. The same
// shape carries business rejections (status FAILED plus a message).
type placeOrderResponse struct {
	Status         string `json:"status"`
	OrderID        string `json:"orderId"`
	Message        string `json:"message"`
	FilledQuantity int64  `json:"filledQty"`
	AvgPrice       string `json:"avgPrice"`
}

// PlaceOrder submits an order to the brokerage. The call carries a request
// timeout and is made exactly once: retrying a placement that may already
// have been accepted would double-submit, so retry policy lives with the
// caller.
func (c *RestClient) PlaceOrder(ctx context.Context, order PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Wait for the rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w: %v", ErrUnavailable, err)
	}

	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", order.OrderType)
	params.Set("quantity", fmt.Sprintf("%d", order.Quantity))
	if order.Price != nil {
		params.Set("price", order.Price.String())
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	var result placeOrderResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&result).
		SetError(&result).
		Post("/orders")

	if err != nil {
		c.logger.Error("Order placement request failed",
			zap.String("symbol", order.Symbol),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to place order: %w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("brokerage returned status %s: %w", resp.Status(), ErrUnavailable)
	}

	// A 4xx with a decoded body is a business rejection, not an outage.
	if resp.IsError() {
		if result.Message == "" {
			result.Message = resp.Status()
		}
		c.logger.Warn("Order rejected by brokerage",
			zap.String("symbol", order.Symbol),
			zap.String("message", result.Message),
		)
		return &PlaceOrderResult{Status: StatusFailed, Message: result.Message}, nil
	}

	placed := &PlaceOrderResult{
		Status:         result.Status,
		OrderID:        result.OrderID,
		Message:        result.Message,
		FilledQuantity: result.FilledQuantity,
	}
	if result.AvgPrice != "" {
		price, perr := decimal.NewFromString(result.AvgPrice)
		if perr != nil {
			c.logger.Warn("Could not parse average fill price",
				zap.String("avg_price", result.AvgPrice), zap.Error(perr))
		} else {
			placed.AvgPrice = decimal.NewNullDecimal(price)
		}
	}

	c.logger.Info("Order placement answered",
		zap.String("symbol", order.Symbol),
		zap.String("status", placed.Status),
		zap.String("broker_order_id", placed.OrderID),
	)
	return placed, nil
}
