// Package risk holds the pure decision functions of the trading engine:
// trigger evaluation and P&L calculation. Nothing here performs I/O.
package risk

import "github.com/anirudhsk/optrader/internal/domain"

// Decision is the outcome of evaluating a price against a position's rules.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionStopLoss
	DecisionTakeProfit
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case DecisionStopLoss:
		return "STOP_LOSS"
	case DecisionTakeProfit:
		return "TAKE_PROFIT"
	default:
		return "NONE"
	}
}

// Reason maps a triggering decision to the close reason recorded on the
// position. Calling it on DecisionNone is a programming error.
func (d Decision) Reason() domain.CloseReason {
	if d == DecisionTakeProfit {
		return domain.CloseReasonTakeProfit
	}
	return domain.CloseReasonStopLoss
}

// Evaluate decides whether price breaches the position's stop-loss or
// take-profit level. When a gap price breaches both levels at once,
// stop-loss wins: protecting capital is prioritized over capturing further
// upside. Absent levels never trigger.
func Evaluate(pos domain.Position, price float64) Decision {
	switch pos.Action {
	case domain.ActionBuy:
		if pos.StopLoss != nil && price <= *pos.StopLoss {
			return DecisionStopLoss
		}
		if pos.TakeProfit != nil && price >= *pos.TakeProfit {
			return DecisionTakeProfit
		}
	case domain.ActionSell:
		if pos.StopLoss != nil && price >= *pos.StopLoss {
			return DecisionStopLoss
		}
		if pos.TakeProfit != nil && price <= *pos.TakeProfit {
			return DecisionTakeProfit
		}
	}
	return DecisionNone
}
