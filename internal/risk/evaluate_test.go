package risk

import (
	"testing"

	"github.com/anirudhsk/optrader/internal/domain"
)

func fp(v float64) *float64 { return &v }

func TestEvaluate_Buy(t *testing.T) {
	pos := domain.Position{
		Action:        domain.ActionBuy,
		AvgEntryPrice: 125.50,
		StopLoss:      fp(110),
		TakeProfit:    fp(155),
	}

	tests := []struct {
		name  string
		price float64
		want  Decision
	}{
		{"InsideBand", 130, DecisionNone},
		{"AtStopLoss", 110, DecisionStopLoss},
		{"BelowStopLoss", 108, DecisionStopLoss},
		{"AtTakeProfit", 155, DecisionTakeProfit},
		{"AboveTakeProfit", 160.25, DecisionTakeProfit},
		{"JustAboveStop", 110.01, DecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(pos, tt.price); got != tt.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Sell(t *testing.T) {
	pos := domain.Position{
		Action:        domain.ActionSell,
		AvgEntryPrice: 180.25,
		StopLoss:      fp(195),
		TakeProfit:    fp(155),
	}

	tests := []struct {
		name  string
		price float64
		want  Decision
	}{
		{"InsideBand", 175, DecisionNone},
		{"AtStopLoss", 195, DecisionStopLoss},
		{"AboveStopLoss", 200, DecisionStopLoss},
		{"AtTakeProfit", 155, DecisionTakeProfit},
		{"BelowTakeProfit", 150, DecisionTakeProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(pos, tt.price); got != tt.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestEvaluate_AbsentLevelsNeverTrigger(t *testing.T) {
	pos := domain.Position{Action: domain.ActionBuy, AvgEntryPrice: 100}
	for _, price := range []float64{0.05, 100, 100000} {
		if got := Evaluate(pos, price); got != DecisionNone {
			t.Errorf("Evaluate(%v) = %v, want DecisionNone", price, got)
		}
	}

	pos.StopLoss = fp(90)
	if got := Evaluate(pos, 1000); got != DecisionNone {
		t.Errorf("Evaluate with no take profit triggered %v on rally", got)
	}
	if got := Evaluate(pos, 80); got != DecisionStopLoss {
		t.Errorf("Evaluate = %v, want DecisionStopLoss", got)
	}
}

// A gap through both levels at once must resolve to stop-loss.
func TestEvaluate_StopLossWinsWhenBothBreached(t *testing.T) {
	// Degenerate bracket reachable only through a data bug still resolves
	// deterministically: stop-loss first.
	buy := domain.Position{
		Action:        domain.ActionBuy,
		AvgEntryPrice: 100,
		StopLoss:      fp(120),
		TakeProfit:    fp(110),
	}
	if got := Evaluate(buy, 115); got != DecisionStopLoss {
		t.Errorf("Evaluate = %v, want DecisionStopLoss", got)
	}

	sell := domain.Position{
		Action:        domain.ActionSell,
		AvgEntryPrice: 100,
		StopLoss:      fp(90),
		TakeProfit:    fp(95),
	}
	if got := Evaluate(sell, 93); got != DecisionStopLoss {
		t.Errorf("Evaluate = %v, want DecisionStopLoss", got)
	}
}

func TestDecision_Reason(t *testing.T) {
	if got := DecisionStopLoss.Reason(); got != domain.CloseReasonStopLoss {
		t.Errorf("Reason() = %v, want %v", got, domain.CloseReasonStopLoss)
	}
	if got := DecisionTakeProfit.Reason(); got != domain.CloseReasonTakeProfit {
		t.Errorf("Reason() = %v, want %v", got, domain.CloseReasonTakeProfit)
	}
}
