package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

func fp(v float64) *float64 { return &v }

func testOrder() domain.Order {
	return domain.Order{
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
		StopLoss:   fp(110),
		TakeProfit: fp(155),
	}
}

func mustCreate(t *testing.T, s *PositionStore) domain.Position {
	t.Helper()
	pos, err := s.Create(context.Background(), testOrder(), 125.50)
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	return pos
}

func TestPositionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	if pos.Status != domain.PositionStatusOpen {
		t.Fatalf("new position status = %v, want open", pos.Status)
	}

	if err := s.Reserve(ctx, pos.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	closedAt := time.Now().UTC()
	if err := s.FinalizeClose(ctx, pos.ID, domain.CloseReasonStopLoss, 108, closedAt); err != nil {
		t.Fatalf("FinalizeClose failed: %v", err)
	}

	got, err := s.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.PositionStatusClosed {
		t.Errorf("status = %v, want closed", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 108 {
		t.Errorf("exit price = %v, want 108", got.ExitPrice)
	}
	if got.CloseReason == nil || *got.CloseReason != domain.CloseReasonStopLoss {
		t.Errorf("close reason = %v, want STOP_LOSS", got.CloseReason)
	}

	// Closed is terminal.
	if err := s.Reserve(ctx, pos.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Reserve on closed position: error = %v, want ErrInvalidState", err)
	}
}

func TestPositionStore_ReserveIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Reserve(ctx, pos.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d concurrent reservations succeeded, want exactly 1", won)
	}
}

func TestPositionStore_ReleaseReArms(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	if err := s.Reserve(ctx, pos.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.Release(ctx, pos.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	// The position is open again and can be reserved by the next attempt.
	if err := s.Reserve(ctx, pos.ID); err != nil {
		t.Fatalf("Reserve after Release failed: %v", err)
	}
	if err := s.Release(ctx, pos.ID); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}

	// Release from open is invalid.
	if err := s.Release(ctx, pos.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Release on open position: error = %v, want ErrInvalidState", err)
	}
}

func TestPositionStore_FinalizeRequiresReservation(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	err := s.FinalizeClose(ctx, pos.ID, domain.CloseReasonManual, 120, time.Now())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("FinalizeClose on open position: error = %v, want ErrInvalidState", err)
	}
}

func TestPositionStore_ReopenStale(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	a := mustCreate(t, s)
	b, err := s.Create(ctx, func() domain.Order { o := testOrder(); o.ID = "ord-2"; return o }(), 130)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Reserve(ctx, a.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	n, err := s.ReopenStale(ctx)
	if err != nil {
		t.Fatalf("ReopenStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReopenStale re-armed %d positions, want 1", n)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != domain.PositionStatusOpen {
			t.Errorf("position %s status = %v, want open", id, got.Status)
		}
	}
}

func TestPositionStore_UpdateRules(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	updated, err := s.UpdateRules(ctx, pos.ID, fp(120), fp(140))
	if err != nil {
		t.Fatalf("UpdateRules failed: %v", err)
	}
	if updated.StopLoss == nil || *updated.StopLoss != 120 {
		t.Errorf("stop loss = %v, want 120", updated.StopLoss)
	}

	// Clearing both levels is allowed.
	updated, err = s.UpdateRules(ctx, pos.ID, nil, nil)
	if err != nil {
		t.Fatalf("UpdateRules with nil levels failed: %v", err)
	}
	if updated.StopLoss != nil || updated.TakeProfit != nil {
		t.Errorf("levels not cleared: sl=%v tp=%v", updated.StopLoss, updated.TakeProfit)
	}

	// Inconsistent bracket is rejected without mutating the position.
	if _, err := s.UpdateRules(ctx, pos.ID, fp(200), nil); !errors.Is(err, domain.ErrInvalidRule) {
		t.Errorf("UpdateRules error = %v, want ErrInvalidRule", err)
	}

	// Rules are immutable once the position leaves open.
	if err := s.Reserve(ctx, pos.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := s.UpdateRules(ctx, pos.ID, fp(110), nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("UpdateRules on closing position: error = %v, want ErrInvalidState", err)
	}
}

func TestPositionStore_ListOpenByInstrument(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	mustCreate(t, s)

	other := testOrder()
	other.ID = "ord-2"
	other.Instrument.StrikePrice = 24500
	if _, err := s.Create(ctx, other, 80); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key := testOrder().Instrument.Key()
	got, err := s.ListOpenByInstrument(ctx, key)
	if err != nil {
		t.Fatalf("ListOpenByInstrument failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListOpenByInstrument returned %d positions, want 1", len(got))
	}
	if got[0].Instrument.Key() != key {
		t.Errorf("returned position has key %q, want %q", got[0].Instrument.Key(), key)
	}
}

func TestPositionStore_DeleteClosedOnly(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	pos := mustCreate(t, s)

	// Open positions survive deletion requests.
	if err := s.DeleteClosed(ctx, []string{pos.ID}); err != nil {
		t.Fatalf("DeleteClosed failed: %v", err)
	}
	if _, err := s.Get(ctx, pos.ID); err != nil {
		t.Fatalf("open position was deleted: %v", err)
	}

	if err := s.Reserve(ctx, pos.ID); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.FinalizeClose(ctx, pos.ID, domain.CloseReasonManual, 130, time.Now()); err != nil {
		t.Fatalf("FinalizeClose failed: %v", err)
	}
	if err := s.DeleteClosed(ctx, []string{pos.ID}); err != nil {
		t.Fatalf("DeleteClosed failed: %v", err)
	}
	if _, err := s.Get(ctx, pos.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete: error = %v, want ErrNotFound", err)
	}
}
