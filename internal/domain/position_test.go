package domain

import (
	"errors"
	"testing"
	"time"
)

func fp(v float64) *float64 { return &v }

func testInstrument() Instrument {
	return Instrument{
		Symbol:      "NIFTY",
		OptionType:  OptionCall,
		StrikePrice: 24000,
		ExpiryDate:  "2026-09-25",
		LotSize:     25,
	}
}

func TestValidateBracket(t *testing.T) {
	tests := []struct {
		name       string
		action     OrderAction
		entry      float64
		stopLoss   *float64
		takeProfit *float64
		wantErr    bool
	}{
		{"BuyValid", ActionBuy, 100, fp(90), fp(120), false},
		{"BuyNoLevels", ActionBuy, 100, nil, nil, false},
		{"BuyStopOnly", ActionBuy, 100, fp(90), nil, false},
		{"BuyStopAtEntry", ActionBuy, 100, fp(100), fp(120), true},
		{"BuyStopAboveEntry", ActionBuy, 100, fp(110), fp(120), true},
		{"BuyTakeProfitBelowEntry", ActionBuy, 100, fp(90), fp(95), true},
		{"SellValid", ActionSell, 100, fp(110), fp(80), false},
		{"SellStopBelowEntry", ActionSell, 100, fp(90), fp(80), true},
		{"SellTakeProfitAboveEntry", ActionSell, 100, fp(110), fp(120), true},
		{"NegativeStop", ActionBuy, 100, fp(-5), nil, true},
		{"ZeroTakeProfit", ActionSell, 100, nil, fp(0), true},
		{"UnknownAction", OrderAction("HOLD"), 100, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBracket(tt.action, tt.entry, tt.stopLoss, tt.takeProfit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBracket() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRule) {
				t.Errorf("error %v is not ErrInvalidRule", err)
			}
		})
	}
}

func TestNewPositionFromFill(t *testing.T) {
	order := Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     ActionBuy,
		Type:       OrderTypeMarket,
		Quantity:   50,
		StopLoss:   fp(110),
		TakeProfit: fp(155),
	}
	openedAt := time.Now().UTC()

	pos, err := NewPositionFromFill("pos-1", order, 125.50, openedAt)
	if err != nil {
		t.Fatalf("NewPositionFromFill returned unexpected error: %v", err)
	}
	if pos.Status != PositionStatusOpen {
		t.Errorf("Status = %v, want open", pos.Status)
	}
	if pos.AvgEntryPrice != 125.50 {
		t.Errorf("AvgEntryPrice = %v, want 125.50", pos.AvgEntryPrice)
	}
	if pos.Quantity != 50 {
		t.Errorf("Quantity = %v, want 50", pos.Quantity)
	}
	if !pos.OpenedAt.Equal(openedAt) {
		t.Errorf("OpenedAt = %v, want %v", pos.OpenedAt, openedAt)
	}
}

func TestNewPositionFromFill_Rejections(t *testing.T) {
	base := Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     ActionBuy,
		Type:       OrderTypeMarket,
		Quantity:   50,
	}

	t.Run("NonPositiveFill", func(t *testing.T) {
		_, err := NewPositionFromFill("p", base, 0, time.Now())
		if !errors.Is(err, ErrInvalidFill) {
			t.Errorf("error = %v, want ErrInvalidFill", err)
		}
	})

	t.Run("NonPositiveQuantity", func(t *testing.T) {
		order := base
		order.Quantity = 0
		_, err := NewPositionFromFill("p", order, 100, time.Now())
		if !errors.Is(err, ErrInvalidFill) {
			t.Errorf("error = %v, want ErrInvalidFill", err)
		}
	})

	t.Run("FillOutsideBracket", func(t *testing.T) {
		// Market fill gapped below the requested stop loss.
		order := base
		order.StopLoss = fp(110)
		_, err := NewPositionFromFill("p", order, 105, time.Now())
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("error = %v, want ErrInvalidRule", err)
		}
	})
}
