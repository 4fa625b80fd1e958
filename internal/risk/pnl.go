package risk

import "github.com/anirudhsk/optrader/internal/domain"

// PnL returns the unrealized profit and loss of a position at the current
// price, as an absolute amount and as a percentage of entry notional. The
// percentage is defined as 0 when the entry notional is 0; quantity is
// always positive by invariant, so that only guards a zero entry price,
// which creation already rejects.
func PnL(pos domain.Position, currentPrice float64) (absolute, percent float64) {
	qty := float64(pos.Quantity)

	switch pos.Action {
	case domain.ActionBuy:
		absolute = (currentPrice - pos.AvgEntryPrice) * qty
	case domain.ActionSell:
		absolute = (pos.AvgEntryPrice - currentPrice) * qty
	}

	notional := pos.AvgEntryPrice * qty
	if notional == 0 {
		return absolute, 0
	}
	return absolute, absolute / notional * 100
}
