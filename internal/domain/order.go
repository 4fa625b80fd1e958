package domain

import (
	"fmt"
	"time"
)

// OrderAction indicates whether the order opens long or short exposure.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle. Filled and rejected are terminal;
// an order never leaves a terminal state.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a request to open exposure on an instrument. The ID is
// client-assigned (or generated at submission when empty) and is the
// idempotency key for duplicate detection.
type Order struct {
	ID           string
	Instrument   Instrument
	Action       OrderAction
	Type         OrderType
	LimitPrice   float64 // required > 0 for LIMIT, ignored for MARKET
	Quantity     int     // must be a positive multiple of the instrument lot size
	StopLoss     *float64
	TakeProfit   *float64
	Status       OrderStatus
	RejectReason string
	CreatedAt    time.Time
	FilledAt     *time.Time
	FillPrice    *float64
}

// Validate checks the order's static constraints. It never touches the
// network; callers run it before any broker interaction.
func (o Order) Validate() error {
	if err := o.Instrument.Validate(); err != nil {
		return err
	}
	if o.Action != ActionBuy && o.Action != ActionSell {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, o.Action)
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order requires a positive limit price, got %.2f", ErrValidation, o.LimitPrice)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, o.Type)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Quantity)
	}
	if o.Quantity%o.Instrument.LotSize != 0 {
		return fmt.Errorf("%w: quantity %d is not a multiple of lot size %d", ErrValidation, o.Quantity, o.Instrument.LotSize)
	}
	if o.StopLoss != nil && *o.StopLoss <= 0 {
		return fmt.Errorf("%w: stop loss must be positive, got %.2f", ErrValidation, *o.StopLoss)
	}
	if o.TakeProfit != nil && *o.TakeProfit <= 0 {
		return fmt.Errorf("%w: take profit must be positive, got %.2f", ErrValidation, *o.TakeProfit)
	}
	return nil
}

// Terminal reports whether the order has reached a final state.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusRejected
}

// OrderResult is returned to the caller after a submission attempt.
type OrderResult struct {
	OrderID    string      `json:"orderId"`
	Status     OrderStatus `json:"status"`
	FillPrice  float64     `json:"fillPrice,omitempty"`
	PositionID string      `json:"positionId,omitempty"`
	Message    string      `json:"message,omitempty"`
}
