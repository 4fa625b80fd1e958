// Package dhan implements the broker gateway against the Dhan HTTP API.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// Config holds the Dhan API connection parameters.
type Config struct {
	BaseURL     string
	ClientID    string
	AccessToken string
	Timeout     time.Duration
}

// Client is a Dhan REST API client implementing domain.BrokerGateway.
// Failures are classified per the gateway contract: network errors, 429 and
// 5xx responses wrap domain.ErrGatewayTransient; other non-2xx responses
// wrap domain.ErrGatewayPermanent with the broker's reason preserved.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Dhan client.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "dhan")),
	}
}

type placeOrderRequest struct {
	ClientOrderID string  `json:"clientOrderId"`
	Symbol        string  `json:"symbol"`
	OptionType    string  `json:"optionType"`
	StrikePrice   float64 `json:"strikePrice"`
	ExpiryDate    string  `json:"expiryDate"`
	Action        string  `json:"transactionType"`
	OrderType     string  `json:"orderType"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price,omitempty"`
}

type placeOrderResponse struct {
	OrderID   string  `json:"orderId"`
	Status    string  `json:"orderStatus"`
	FillPrice float64 `json:"tradedPrice"`
	FilledAt  string  `json:"tradedAt"`
	Message   string  `json:"message"`
}

type closePositionRequest struct {
	PositionID string `json:"positionId"`
	Symbol     string `json:"symbol"`
	Action     string `json:"transactionType"`
	Quantity   int    `json:"quantity"`
}

type closePositionResponse struct {
	Status    string  `json:"status"`
	FillPrice float64 `json:"tradedPrice"`
	ClosedAt  string  `json:"closedAt"`
	Message   string  `json:"message"`
}

// PlaceOrder submits an order for execution and returns the confirmed fill.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderReceipt, error) {
	req := placeOrderRequest{
		ClientOrderID: order.ID,
		Symbol:        order.Instrument.Symbol,
		OptionType:    string(order.Instrument.OptionType),
		StrikePrice:   order.Instrument.StrikePrice,
		ExpiryDate:    order.Instrument.ExpiryDate,
		Action:        string(order.Action),
		OrderType:     string(order.Type),
		Quantity:      order.Quantity,
	}
	if order.Type == domain.OrderTypeLimit {
		req.Price = order.LimitPrice
	}

	var resp placeOrderResponse
	if err := c.post(ctx, "/v2/orders", req, &resp); err != nil {
		return domain.OrderReceipt{}, err
	}
	if resp.Status == "REJECTED" {
		return domain.OrderReceipt{}, fmt.Errorf("%w: %s", domain.ErrGatewayPermanent, resp.Message)
	}

	filledAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, resp.FilledAt); err == nil {
		filledAt = t
	}
	return domain.OrderReceipt{
		BrokerOrderID: resp.OrderID,
		FillPrice:     resp.FillPrice,
		FilledAt:      filledAt,
	}, nil
}

// ClosePosition squares off an open position at market.
func (c *Client) ClosePosition(ctx context.Context, pos domain.Position) (domain.CloseReceipt, error) {
	// Closing reverses the opening direction.
	action := domain.ActionSell
	if pos.Action == domain.ActionSell {
		action = domain.ActionBuy
	}
	req := closePositionRequest{
		PositionID: pos.ID,
		Symbol:     pos.Instrument.Symbol,
		Action:     string(action),
		Quantity:   pos.Quantity,
	}

	var resp closePositionResponse
	if err := c.post(ctx, "/v2/positions/close", req, &resp); err != nil {
		return domain.CloseReceipt{}, err
	}
	if resp.Status == "REJECTED" {
		return domain.CloseReceipt{}, fmt.Errorf("%w: %s", domain.ErrGatewayPermanent, resp.Message)
	}

	closedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, resp.ClosedAt); err == nil {
		closedAt = t
	}
	return domain.CloseReceipt{FillPrice: resp.FillPrice, ClosedAt: closedAt}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dhan: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dhan: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", c.cfg.AccessToken)
	req.Header.Set("dhan-client-id", c.cfg.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors are retryable.
		return fmt.Errorf("%w: dhan: %s: %v", domain.ErrGatewayTransient, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: dhan: read response: %v", domain.ErrGatewayTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: dhan: %s returned %d: %s", domain.ErrGatewayTransient, path, resp.StatusCode, respBody)
	default:
		return fmt.Errorf("%w: dhan: %s returned %d: %s", domain.ErrGatewayPermanent, path, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("dhan: decode response: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BrokerGateway = (*Client)(nil)
