package engine

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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway records closures and fails on demand.
type fakeGateway struct {
	mu        sync.Mutex
	closeErr  error
	fillPrice float64
	closed    []string
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderReceipt, error) {
	return domain.OrderReceipt{BrokerOrderID: "brk-1", FillPrice: g.fillPrice, FilledAt: time.Now().UTC()}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, pos domain.Position) (domain.CloseReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return domain.CloseReceipt{}, g.closeErr
	}
	g.closed = append(g.closed, pos.ID)
	return domain.CloseReceipt{FillPrice: g.fillPrice, ClosedAt: time.Now().UTC()}, nil
}

func (g *fakeGateway) closeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.closed)
}

func newTestEngine(t *testing.T, gateway domain.BrokerGateway) (*Engine, *memory.PositionStore) {
	t.Helper()
	store := memory.NewPositionStore()
	notifier := events.NewNotifier(64, discardLogger())
	return New(store, gateway, notifier, nil, Config{Workers: 2}, discardLogger()), store
}

func openPosition(t *testing.T, store *memory.PositionStore, stopLoss, takeProfit *float64) domain.Position {
	t.Helper()
	order := domain.Order{
		ID: "ord-1",
		Instrument: domain.Instrument{
			Symbol:      "NIFTY",
			OptionType:  domain.OptionCall,
			StrikePrice: 24000,
			ExpiryDate:  "2026-09-25",
			LotSize:     25,
		},
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeMarket,
		Quantity:   50,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	pos, err := store.Create(context.Background(), order, 125.50)
	if err != nil {
		t.Fatalf("Create position failed: %v", err)
	}
	return pos
}

func TestEngine_TickTriggersStopLoss(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 107.80}
	eng, store := newTestEngine(t, gateway)
	pos := openPosition(t, store, fp(110), fp(155))

	eng.process(context.Background(), domain.PriceTick{
		Instrument: pos.Instrument,
		Price:      108,
		ObservedAt: time.Now().UTC(),
	})

	got, err := store.Get(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.PositionStatusClosed {
		t.Fatalf("status = %v, want closed", got.Status)
	}
	if got.CloseReason == nil || *got.CloseReason != domain.CloseReasonStopLoss {
		t.Errorf("close reason = %v, want STOP_LOSS", got.CloseReason)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 107.80 {
		t.Errorf("exit price = %v, want broker fill 107.80", got.ExitPrice)
	}
}

func TestEngine_TickInsideBandDoesNothing(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 130}
	eng, store := newTestEngine(t, gateway)
	pos := openPosition(t, store, fp(110), fp(155))

	eng.process(context.Background(), domain.PriceTick{
		Instrument: pos.Instrument,
		Price:      130,
		ObservedAt: time.Now().UTC(),
	})

	got, _ := store.Get(context.Background(), pos.ID)
	if got.Status != domain.PositionStatusOpen {
		t.Errorf("status = %v, want open", got.Status)
	}
	if gateway.closeCount() != 0 {
		t.Errorf("gateway saw %d closures, want 0", gateway.closeCount())
	}
}

func TestEngine_GatewayFailureReArmsPosition(t *testing.T) {
	gateway := &fakeGateway{
		fillPrice: 108,
		closeErr:  fmt.Errorf("venue rejected: %w", domain.ErrGatewayPermanent),
	}
	eng, store := newTestEngine(t, gateway)
	pos := openPosition(t, store, fp(110), nil)

	tick := domain.PriceTick{Instrument: pos.Instrument, Price: 108, ObservedAt: time.Now().UTC()}
	eng.process(context.Background(), tick)

	got, _ := store.Get(context.Background(), pos.ID)
	if got.Status != domain.PositionStatusOpen {
		t.Fatalf("status after failed closure = %v, want open", got.Status)
	}

	// The next tick retries and succeeds once the venue recovers.
	gateway.mu.Lock()
	gateway.closeErr = nil
	gateway.mu.Unlock()

	eng.process(context.Background(), tick)
	got, _ = store.Get(context.Background(), pos.ID)
	if got.Status != domain.PositionStatusClosed {
		t.Errorf("status after retry = %v, want closed", got.Status)
	}
}

// recordingHandler captures dispatched event kinds in order.
type recordingHandler struct {
	kinds []domain.EventKind
}

func (h *recordingHandler) Name() string { return "recorder" }

func (h *recordingHandler) HandleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	h.kinds = append(h.kinds, ev.Kind)
}

// drainEvents dispatches everything already published to the handlers.
func drainEvents(notifier *events.Notifier) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = notifier.Run(ctx)
}

func TestEngine_TriggerEventsFollowConfirmedFill(t *testing.T) {
	store := memory.NewPositionStore()
	notifier := events.NewNotifier(64, discardLogger())
	rec := &recordingHandler{}
	notifier.Register(rec)
	gateway := &fakeGateway{
		fillPrice: 107.80,
		closeErr:  fmt.Errorf("venue busy: %w", domain.ErrGatewayTransient),
	}
	eng := New(store, gateway, notifier, nil, Config{Workers: 2}, discardLogger())
	pos := openPosition(t, store, fp(110), nil)

	tick := domain.PriceTick{Instrument: pos.Instrument, Price: 108, ObservedAt: time.Now().UTC()}

	// A failed closure reports CLOSE_FAILED only; nothing announces a trigger
	// the broker never confirmed.
	eng.process(context.Background(), tick)
	drainEvents(notifier)
	if len(rec.kinds) != 1 || rec.kinds[0] != domain.EventCloseFailed {
		t.Fatalf("events after failed closure = %v, want [CLOSE_FAILED]", rec.kinds)
	}

	// The retry that lands reports TRIGGERED then CLOSED, in that order.
	gateway.mu.Lock()
	gateway.closeErr = nil
	gateway.mu.Unlock()
	rec.kinds = nil

	eng.process(context.Background(), tick)
	drainEvents(notifier)
	if len(rec.kinds) != 2 || rec.kinds[0] != domain.EventTriggered || rec.kinds[1] != domain.EventClosed {
		t.Fatalf("events after successful closure = %v, want [TRIGGERED CLOSED]", rec.kinds)
	}
}

func TestEngine_CloseManual(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 131.25}
	eng, store := newTestEngine(t, gateway)
	pos := openPosition(t, store, nil, nil)

	closed, err := eng.CloseManual(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("CloseManual failed: %v", err)
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Fatalf("status = %v, want closed", closed.Status)
	}
	if closed.CloseReason == nil || *closed.CloseReason != domain.CloseReasonManual {
		t.Errorf("close reason = %v, want MANUAL", closed.CloseReason)
	}

	// A second manual close loses the state check.
	if _, err := eng.CloseManual(context.Background(), pos.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second CloseManual: error = %v, want ErrInvalidState", err)
	}

	if gateway.closeCount() != 1 {
		t.Errorf("gateway saw %d closures, want exactly 1", gateway.closeCount())
	}
}

func TestEngine_CloseManualUnknownPosition(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeGateway{fillPrice: 100})
	if _, err := eng.CloseManual(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CloseManual: error = %v, want ErrNotFound", err)
	}
}

func TestEngine_RunConsumesTicks(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 108}
	eng, store := newTestEngine(t, gateway)
	pos := openPosition(t, store, fp(110), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan domain.PriceTick, 1)
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, ticks) }()

	ticks <- domain.PriceTick{Instrument: pos.Instrument, Price: 105, ObservedAt: time.Now().UTC()}

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), pos.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == domain.PositionStatusClosed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("position never closed, status = %v", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestEngine_Recover(t *testing.T) {
	eng, store := newTestEngine(t, &fakeGateway{fillPrice: 100})
	pos := openPosition(t, store, nil, nil)

	if err := store.Reserve(context.Background(), pos.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := eng.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	got, _ := store.Get(context.Background(), pos.ID)
	if got.Status != domain.PositionStatusOpen {
		t.Errorf("status after recovery = %v, want open", got.Status)
	}
}

func TestShardIndex(t *testing.T) {
	key := "NIFTY|CALL|24000.00|2026-09-25"
	first := shardIndex(key, 8)
	for i := 0; i < 100; i++ {
		if got := shardIndex(key, 8); got != first {
			t.Fatalf("shardIndex is not stable: %d vs %d", got, first)
		}
	}
	if first < 0 || first >= 8 {
		t.Fatalf("shardIndex out of range: %d", first)
	}
}
