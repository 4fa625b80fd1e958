package risk

import (
	"math"
	"testing"

	"github.com/anirudhsk/optrader/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name        string
		action      domain.OrderAction
		entry       float64
		qty         int
		price       float64
		wantAbs     float64
		wantPercent float64
	}{
		{"BuyLoss", domain.ActionBuy, 125.50, 50, 108, -875, -875 / (125.50 * 50) * 100},
		{"BuyGain", domain.ActionBuy, 125.50, 50, 160, 1725, 1725 / (125.50 * 50) * 100},
		{"SellLoss", domain.ActionSell, 180.25, 25, 200, -493.75, -493.75 / (180.25 * 25) * 100},
		{"SellGain", domain.ActionSell, 180.25, 25, 155, 631.25, 631.25 / (180.25 * 25) * 100},
		{"FlatAtEntry", domain.ActionBuy, 100, 10, 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := domain.Position{
				Action:        tt.action,
				AvgEntryPrice: tt.entry,
				Quantity:      tt.qty,
			}
			abs, pct := PnL(pos, tt.price)
			if !almostEqual(abs, tt.wantAbs) {
				t.Errorf("PnL absolute = %v, want %v", abs, tt.wantAbs)
			}
			if !almostEqual(pct, tt.wantPercent) {
				t.Errorf("PnL percent = %v, want %v", pct, tt.wantPercent)
			}
		})
	}
}

func TestPnL_ZeroNotional(t *testing.T) {
	pos := domain.Position{Action: domain.ActionBuy, AvgEntryPrice: 0, Quantity: 10}
	abs, pct := PnL(pos, 5)
	if !almostEqual(abs, 50) {
		t.Errorf("PnL absolute = %v, want 50", abs)
	}
	if pct != 0 {
		t.Errorf("PnL percent = %v, want 0 for zero notional", pct)
	}
}
