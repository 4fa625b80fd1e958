package domain

import (
	"errors"
	"testing"
)

func TestOrder_Validate(t *testing.T) {
	valid := Order{
		ID:         "ord-1",
		Instrument: testInstrument(),
		Action:     ActionBuy,
		Type:       OrderTypeMarket,
		Quantity:   50,
	}

	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
	}{
		{"Valid", func(o *Order) {}, false},
		{"ValidLimit", func(o *Order) { o.Type = OrderTypeLimit; o.LimitPrice = 120 }, false},
		{"UnknownAction", func(o *Order) { o.Action = "HOLD" }, true},
		{"UnknownType", func(o *Order) { o.Type = "STOP" }, true},
		{"LimitWithoutPrice", func(o *Order) { o.Type = OrderTypeLimit }, true},
		{"ZeroQuantity", func(o *Order) { o.Quantity = 0 }, true},
		{"NegativeQuantity", func(o *Order) { o.Quantity = -25 }, true},
		{"NotLotMultiple", func(o *Order) { o.Quantity = 30 }, true},
		{"NegativeStopLoss", func(o *Order) { o.StopLoss = fp(-1) }, true},
		{"ZeroTakeProfit", func(o *Order) { o.TakeProfit = fp(0) }, true},
		{"EmptySymbol", func(o *Order) { o.Instrument.Symbol = "" }, true},
		{"BadOptionType", func(o *Order) { o.Instrument.OptionType = "STRADDLE" }, true},
		{"BadExpiry", func(o *Order) { o.Instrument.ExpiryDate = "25-09-2026" }, true},
		{"ZeroLotSize", func(o *Order) { o.Instrument.LotSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := valid
			tt.mutate(&order)
			err := order.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("error %v is not ErrValidation", err)
			}
		})
	}
}

func TestOrder_Terminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusCreated, false},
		{OrderStatusSubmitted, false},
		{OrderStatusFilled, true},
		{OrderStatusRejected, true},
	}
	for _, tt := range tests {
		if got := (Order{Status: tt.status}).Terminal(); got != tt.want {
			t.Errorf("Terminal() for %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestInstrument_Key(t *testing.T) {
	a := testInstrument()
	b := testInstrument()
	if a.Key() != b.Key() {
		t.Errorf("equal instruments have different keys: %q vs %q", a.Key(), b.Key())
	}

	b.StrikePrice = 24100
	if a.Key() == b.Key() {
		t.Errorf("different strikes share key %q", a.Key())
	}
}
