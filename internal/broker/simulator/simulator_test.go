package simulator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/anirudhsk/optrader/internal/domain"
)

func testInstrument() domain.Instrument {
	return domain.Instrument{
		Symbol:      "NIFTY",
		OptionType:  domain.OptionCall,
		StrikePrice: 24000,
		ExpiryDate:  "2026-09-25",
		LotSize:     25,
	}
}

func TestGateway_FillsAtMarkWithSlippage(t *testing.T) {
	g := New(Config{SlippageBps: 10, Seed: 1})
	g.SetMark(testInstrument().Key(), 100)

	order := domain.Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeMarket,
		Quantity:   25,
	}
	receipt, err := g.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	// Buys pay up: mark 100 at 10bps slips to 100.10.
	if math.Abs(receipt.FillPrice-100.10) > 1e-9 {
		t.Errorf("fill price = %v, want 100.10", receipt.FillPrice)
	}
	if receipt.BrokerOrderID == "" {
		t.Error("receipt has no broker order id")
	}
}

func TestGateway_MarketOrderWithoutMarkIsPermanent(t *testing.T) {
	g := New(Config{Seed: 1})

	order := domain.Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeMarket,
		Quantity:   25,
	}
	_, err := g.PlaceOrder(context.Background(), order)
	if !errors.Is(err, domain.ErrGatewayPermanent) {
		t.Fatalf("error = %v, want ErrGatewayPermanent", err)
	}
}

func TestGateway_LimitOrderFallsBackToLimitPrice(t *testing.T) {
	g := New(Config{Seed: 1})

	order := domain.Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeLimit,
		LimitPrice: 95,
		Quantity:   25,
	}
	receipt, err := g.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if receipt.FillPrice != 95 {
		t.Errorf("fill price = %v, want limit price 95", receipt.FillPrice)
	}
}

func TestGateway_CloseTradesOppositeSide(t *testing.T) {
	g := New(Config{SlippageBps: 10, Seed: 1})
	g.SetMark(testInstrument().Key(), 100)

	pos := domain.Position{
		ID:            "pos-1",
		Instrument:    testInstrument(),
		Action:        domain.ActionBuy,
		Quantity:      25,
		AvgEntryPrice: 98,
	}
	receipt, err := g.ClosePosition(context.Background(), pos)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	// Closing a long sells: mark 100 slips down to 99.90.
	if math.Abs(receipt.FillPrice-99.90) > 1e-9 {
		t.Errorf("fill price = %v, want 99.90", receipt.FillPrice)
	}
}

func TestGateway_FullFailureRateIsTransient(t *testing.T) {
	g := New(Config{FailureRate: 1, Seed: 1})
	g.SetMark(testInstrument().Key(), 100)

	order := domain.Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeMarket,
		Quantity:   25,
	}
	_, err := g.PlaceOrder(context.Background(), order)
	if !errors.Is(err, domain.ErrGatewayTransient) {
		t.Fatalf("error = %v, want ErrGatewayTransient", err)
	}
}
