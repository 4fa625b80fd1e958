package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anirudhsk/optrader/internal/domain"
)

// fakeOrderService implements OrderService with canned responses.
type fakeOrderService struct {
	submitResult domain.OrderResult
	submitErr    error
	submitted    []domain.Order
	orders       map[string]domain.Order
}

func (f *fakeOrderService) Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	f.submitted = append(f.submitted, order)
	return f.submitResult, f.submitErr
}

func (f *fakeOrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (f *fakeOrderService) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func newOrderMux(svc *fakeOrderService) *http.ServeMux {
	h := NewOrderHandler(svc, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	return mux
}

const placeOrderBody = `{
	"symbol": "NIFTY",
	"optionType": "CALL",
	"strikePrice": 24000,
	"expiryDate": "2026-09-25",
	"lotSize": 25,
	"action": "BUY",
	"quantity": 50,
	"stopLoss": 110,
	"takeProfit": 155
}`

func TestPlaceOrder(t *testing.T) {
	svc := &fakeOrderService{
		submitResult: domain.OrderResult{
			OrderID:    "ord-1",
			Status:     domain.OrderStatusFilled,
			FillPrice:  125.50,
			PositionID: "pos-1",
		},
	}
	mux := newOrderMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(placeOrderBody)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var result domain.OrderResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.PositionID != "pos-1" || result.FillPrice != 125.50 {
		t.Errorf("unexpected result: %+v", result)
	}

	if len(svc.submitted) != 1 {
		t.Fatalf("service saw %d submissions, want 1", len(svc.submitted))
	}
	order := svc.submitted[0]
	if order.Type != domain.OrderTypeMarket {
		t.Errorf("order type = %v, want MARKET default", order.Type)
	}
	if order.Instrument.LotSize != 25 {
		t.Errorf("lot size = %d, want 25", order.Instrument.LotSize)
	}
	if order.StopLoss == nil || *order.StopLoss != 110 {
		t.Errorf("stop loss = %v, want 110", order.StopLoss)
	}
}

func TestPlaceOrder_ValidationMapsToBadRequest(t *testing.T) {
	svc := &fakeOrderService{
		submitErr: fmt.Errorf("quantity: %w", domain.ErrValidation),
	}
	mux := newOrderMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(placeOrderBody)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceOrder_DuplicateMapsToConflict(t *testing.T) {
	svc := &fakeOrderService{
		submitErr: fmt.Errorf("submit: %w", domain.ErrDuplicateOrder),
	}
	mux := newOrderMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(placeOrderBody)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestPlaceOrder_BrokerRejectionCarriesResult(t *testing.T) {
	svc := &fakeOrderService{
		submitResult: domain.OrderResult{
			OrderID: "ord-1",
			Status:  domain.OrderStatusRejected,
			Message: "insufficient margin",
		},
		submitErr: fmt.Errorf("place: %w", domain.ErrGatewayPermanent),
	}
	mux := newOrderMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(placeOrderBody)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var result domain.OrderResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != domain.OrderStatusRejected || result.Message == "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	mux := newOrderMux(&fakeOrderService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	mux := newOrderMux(&fakeOrderService{orders: map[string]domain.Order{}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
