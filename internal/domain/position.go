package domain

import (
	"fmt"
	"time"
)

// PositionStatus is the position state machine: open → closing → closed.
// The open→closing transition reserves the position for a single closure
// attempt; closed is terminal.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
)

// Position is an open or historical exposure created from a filled order.
// It is owned exclusively by the position store; everything else requests
// status transitions through the store API.
type Position struct {
	ID            string
	Instrument    Instrument
	Action        OrderAction
	Quantity      int
	AvgEntryPrice float64
	StopLoss      *float64
	TakeProfit    *float64
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
	CloseReason   *CloseReason
}

// NewPositionFromFill builds an open position from a filled order and the
// broker-confirmed fill price. Both store implementations call this so the
// integrity checks live in one place.
func NewPositionFromFill(id string, order Order, fillPrice float64, openedAt time.Time) (Position, error) {
	if fillPrice <= 0 {
		return Position{}, fmt.Errorf("%w: fill price %.2f must be positive", ErrInvalidFill, fillPrice)
	}
	if order.Quantity <= 0 {
		return Position{}, fmt.Errorf("%w: order %s has non-positive quantity %d", ErrInvalidFill, order.ID, order.Quantity)
	}
	if err := ValidateBracket(order.Action, fillPrice, order.StopLoss, order.TakeProfit); err != nil {
		return Position{}, err
	}

	return Position{
		ID:            id,
		Instrument:    order.Instrument,
		Action:        order.Action,
		Quantity:      order.Quantity,
		AvgEntryPrice: fillPrice,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		Status:        PositionStatusOpen,
		OpenedAt:      openedAt,
	}, nil
}

// ValidateBracket checks that stop-loss and take-profit, where present,
// bracket the entry price consistently with the position direction:
// for BUY stopLoss < entry < takeProfit, for SELL reversed.
func ValidateBracket(action OrderAction, entryPrice float64, stopLoss, takeProfit *float64) error {
	if stopLoss != nil && *stopLoss <= 0 {
		return fmt.Errorf("%w: stop loss %.2f must be positive", ErrInvalidRule, *stopLoss)
	}
	if takeProfit != nil && *takeProfit <= 0 {
		return fmt.Errorf("%w: take profit %.2f must be positive", ErrInvalidRule, *takeProfit)
	}

	switch action {
	case ActionBuy:
		if stopLoss != nil && *stopLoss >= entryPrice {
			return fmt.Errorf("%w: buy stop loss %.2f must be below entry %.2f", ErrInvalidRule, *stopLoss, entryPrice)
		}
		if takeProfit != nil && *takeProfit <= entryPrice {
			return fmt.Errorf("%w: buy take profit %.2f must be above entry %.2f", ErrInvalidRule, *takeProfit, entryPrice)
		}
	case ActionSell:
		if stopLoss != nil && *stopLoss <= entryPrice {
			return fmt.Errorf("%w: sell stop loss %.2f must be above entry %.2f", ErrInvalidRule, *stopLoss, entryPrice)
		}
		if takeProfit != nil && *takeProfit >= entryPrice {
			return fmt.Errorf("%w: sell take profit %.2f must be below entry %.2f", ErrInvalidRule, *takeProfit, entryPrice)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, action)
	}
	return nil
}
