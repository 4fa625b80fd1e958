package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/events"
	"github.com/anirudhsk/optrader/internal/store/memory"
)

func fp(v float64) *float64 { return &v }

// fakeGateway fills every order at a fixed price, or rejects everything.
type fakeGateway struct {
	fillPrice float64
	placeErr  error
	placed    int
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderReceipt, error) {
	g.placed++
	if g.placeErr != nil {
		return domain.OrderReceipt{}, g.placeErr
	}
	return domain.OrderReceipt{BrokerOrderID: "brk-1", FillPrice: g.fillPrice, FilledAt: time.Now().UTC()}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, pos domain.Position) (domain.CloseReceipt, error) {
	return domain.CloseReceipt{FillPrice: g.fillPrice, ClosedAt: time.Now().UTC()}, nil
}

func newTestManager(t *testing.T, gateway domain.BrokerGateway) (*Manager, *memory.PositionStore, *memory.OrderStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orderStore := memory.NewOrderStore()
	positionStore := memory.NewPositionStore()
	notifier := events.NewNotifier(64, logger)
	return NewManager(orderStore, positionStore, gateway, notifier, logger), positionStore, orderStore
}

func testOrder(id string) domain.Order {
	return domain.Order{
		ID: id,
		Instrument: domain.Instrument{
			Symbol:      "BANKNIFTY",
			OptionType:  domain.OptionPut,
			StrikePrice: 52000,
			ExpiryDate:  "2026-09-25",
			LotSize:     15,
		},
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeMarket,
		Quantity:   30,
		StopLoss:   fp(100),
		TakeProfit: fp(200),
	}
}

func TestManager_SubmitFillOpensPosition(t *testing.T) {
	ctx := context.Background()
	mgr, positions, orderStore := newTestManager(t, &fakeGateway{fillPrice: 150})

	result, err := mgr.Submit(ctx, testOrder("ord-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Status != domain.OrderStatusFilled {
		t.Errorf("result status = %v, want filled", result.Status)
	}
	if result.FillPrice != 150 {
		t.Errorf("fill price = %v, want 150", result.FillPrice)
	}
	if result.PositionID == "" {
		t.Fatal("result has no position id")
	}

	pos, err := positions.Get(ctx, result.PositionID)
	if err != nil {
		t.Fatalf("position lookup failed: %v", err)
	}
	if pos.AvgEntryPrice != 150 || pos.Quantity != 30 {
		t.Errorf("position entry=%v qty=%v, want 150/30", pos.AvgEntryPrice, pos.Quantity)
	}

	order, err := orderStore.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("persisted order status = %v, want filled", order.Status)
	}
}

func TestManager_SubmitGeneratesID(t *testing.T) {
	mgr, _, _ := newTestManager(t, &fakeGateway{fillPrice: 150})

	order := testOrder("")
	result, err := mgr.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.OrderID == "" {
		t.Error("Submit did not assign an order id")
	}
}

func TestManager_InvalidOrderDoesNotConsumeID(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{fillPrice: 150}
	mgr, _, _ := newTestManager(t, gateway)

	bad := testOrder("ord-1")
	bad.Quantity = 31 // not a lot multiple
	if _, err := mgr.Submit(ctx, bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Submit error = %v, want ErrValidation", err)
	}
	if gateway.placed != 0 {
		t.Fatalf("invalid order reached the broker %d times", gateway.placed)
	}

	// The corrected order may reuse the id.
	if _, err := mgr.Submit(ctx, testOrder("ord-1")); err != nil {
		t.Fatalf("resubmission after validation failure failed: %v", err)
	}
}

func TestManager_DuplicateID(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{fillPrice: 150}
	mgr, positions, _ := newTestManager(t, gateway)

	if _, err := mgr.Submit(ctx, testOrder("ord-1")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if _, err := mgr.Submit(ctx, testOrder("ord-1")); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("second Submit error = %v, want ErrDuplicateOrder", err)
	}

	if gateway.placed != 1 {
		t.Errorf("broker saw %d placements, want 1", gateway.placed)
	}
	open, _ := positions.ListOpen(ctx)
	if len(open) != 1 {
		t.Errorf("%d positions open, want 1", len(open))
	}
}

func TestManager_BrokerRejection(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{placeErr: fmt.Errorf("insufficient margin: %w", domain.ErrGatewayPermanent)}
	mgr, positions, orderStore := newTestManager(t, gateway)

	result, err := mgr.Submit(ctx, testOrder("ord-1"))
	if !errors.Is(err, domain.ErrGatewayPermanent) {
		t.Fatalf("Submit error = %v, want ErrGatewayPermanent", err)
	}
	if result.Status != domain.OrderStatusRejected {
		t.Errorf("result status = %v, want rejected", result.Status)
	}
	if result.Message == "" {
		t.Error("rejection result carries no message")
	}

	order, err := orderStore.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Errorf("persisted order status = %v, want rejected", order.Status)
	}

	open, _ := positions.ListOpen(ctx)
	if len(open) != 0 {
		t.Errorf("%d positions open after rejection, want 0", len(open))
	}
}

// recordingFeed captures instrument keys routed to the streaming feed.
type recordingFeed struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingFeed) Subscribe(instruments ...domain.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range instruments {
		r.keys = append(r.keys, in.Key())
	}
}

func TestManager_FillSubscribesAttachedFeed(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t, &fakeGateway{fillPrice: 150})
	feed := &recordingFeed{}
	mgr.AttachFeed(feed)

	if _, err := mgr.Submit(ctx, testOrder("ord-1")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	want := testOrder("ord-1").Instrument.Key()
	if len(feed.keys) != 1 || feed.keys[0] != want {
		t.Fatalf("feed subscriptions = %v, want [%s]", feed.keys, want)
	}
}

func TestManager_RejectedOrderDoesNotSubscribeFeed(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{placeErr: fmt.Errorf("insufficient margin: %w", domain.ErrGatewayPermanent)}
	mgr, _, _ := newTestManager(t, gateway)
	feed := &recordingFeed{}
	mgr.AttachFeed(feed)

	if _, err := mgr.Submit(ctx, testOrder("ord-1")); !errors.Is(err, domain.ErrGatewayPermanent) {
		t.Fatalf("Submit error = %v, want ErrGatewayPermanent", err)
	}
	if len(feed.keys) != 0 {
		t.Fatalf("rejected order reached the feed: %v", feed.keys)
	}
}

func TestManager_BracketCheckedAgainstLimitPrice(t *testing.T) {
	mgr, _, _ := newTestManager(t, &fakeGateway{fillPrice: 150})

	order := testOrder("ord-1")
	order.Type = domain.OrderTypeLimit
	order.LimitPrice = 150
	order.StopLoss = fp(160) // above the limit price on a BUY

	if _, err := mgr.Submit(context.Background(), order); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("Submit error = %v, want ErrInvalidRule", err)
	}
}
