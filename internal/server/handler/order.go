package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/anirudhsk/optrader/internal/domain"
)

// OrderService defines the methods the order handler requires.
type OrderService interface {
	Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// placeOrderRequest is the JSON body for order submission. The optional id
// is the client's idempotency key.
type placeOrderRequest struct {
	ID          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	OptionType  string   `json:"optionType"`
	StrikePrice float64  `json:"strikePrice"`
	ExpiryDate  string   `json:"expiryDate"`
	LotSize     int      `json:"lotSize"`
	Action      string   `json:"action"`
	OrderType   string   `json:"orderType"`
	LimitPrice  float64  `json:"limitPrice"`
	Quantity    int      `json:"quantity"`
	StopLoss    *float64 `json:"stopLoss"`
	TakeProfit  *float64 `json:"takeProfit"`
}

func (req placeOrderRequest) toOrder() domain.Order {
	lotSize := req.LotSize
	if lotSize == 0 {
		lotSize = 1
	}
	orderType := domain.OrderType(req.OrderType)
	if req.OrderType == "" {
		orderType = domain.OrderTypeMarket
	}
	return domain.Order{
		ID: req.ID,
		Instrument: domain.Instrument{
			Symbol:      req.Symbol,
			OptionType:  domain.OptionType(req.OptionType),
			StrikePrice: req.StrikePrice,
			ExpiryDate:  req.ExpiryDate,
			LotSize:     lotSize,
		},
		Action:     domain.OrderAction(req.Action),
		Type:       orderType,
		LimitPrice: req.LimitPrice,
		Quantity:   req.Quantity,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
}

// orderView is the wire representation of an order.
type orderView struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	OptionType   string   `json:"optionType"`
	StrikePrice  float64  `json:"strikePrice"`
	ExpiryDate   string   `json:"expiryDate"`
	Action       string   `json:"action"`
	OrderType    string   `json:"orderType"`
	LimitPrice   float64  `json:"limitPrice,omitempty"`
	Quantity     int      `json:"quantity"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	TakeProfit   *float64 `json:"takeProfit,omitempty"`
	Status       string   `json:"status"`
	RejectReason string   `json:"rejectReason,omitempty"`
	FillPrice    *float64 `json:"fillPrice,omitempty"`
}

func orderToView(o domain.Order) orderView {
	return orderView{
		ID:           o.ID,
		Symbol:       o.Instrument.Symbol,
		OptionType:   string(o.Instrument.OptionType),
		StrikePrice:  o.Instrument.StrikePrice,
		ExpiryDate:   o.Instrument.ExpiryDate,
		Action:       string(o.Action),
		OrderType:    string(o.Type),
		LimitPrice:   o.LimitPrice,
		Quantity:     o.Quantity,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		Status:       string(o.Status),
		RejectReason: o.RejectReason,
		FillPrice:    o.FillPrice,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []orderView `json:"orders"`
}

// ListOrders returns recently created orders, newest first.
// GET /api/orders?limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	orders, err := h.orders.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderToView(o))
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: views})
}

// GetOrder returns a single order by ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, orderToView(order))
}

// PlaceOrder submits a new order and returns the submission result.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.orders.Submit(r.Context(), req.toOrder())
	if err != nil {
		// A broker rejection still produced an order record; surface the
		// result body alongside the mapped status.
		if result.Status == domain.OrderStatusRejected {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: place order failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}
