package domain

import (
	"context"
	"time"
)

// OrderReceipt is the broker's answer to a placed order.
type OrderReceipt struct {
	BrokerOrderID string
	FillPrice     float64
	FilledAt      time.Time
}

// CloseReceipt is the broker's answer to a position closure.
type CloseReceipt struct {
	FillPrice float64
	ClosedAt  time.Time
}

// BrokerGateway is the remote execution venue. Implementations classify
// failures as ErrGatewayTransient (retryable) or ErrGatewayPermanent
// (terminal); callers must honor the distinction. Calls are blocking I/O and
// must never be made while holding a store lock; the reservation itself, not
// a lock, prevents duplicate action.
type BrokerGateway interface {
	PlaceOrder(ctx context.Context, order Order) (OrderReceipt, error)
	ClosePosition(ctx context.Context, pos Position) (CloseReceipt, error)
}

// PriceFeed supplies market ticks. Run blocks until the context is cancelled;
// ticks arrive on the Ticks channel with arbitrary jitter. Out-of-order
// delivery across instruments is fine; same-instrument ticks are ordered by
// arrival.
type PriceFeed interface {
	Run(ctx context.Context) error
	Ticks() <-chan PriceTick
}

// InstrumentSubscriber is implemented by streaming feeds that must be told
// which instruments to watch. Subscribing is additive and idempotent.
type InstrumentSubscriber interface {
	Subscribe(instruments ...Instrument)
}

// AdvisoryFeed produces trading signals and recommendations. Pure data.
type AdvisoryFeed interface {
	Signals(ctx context.Context) ([]Signal, error)
	Recommendations(ctx context.Context) ([]Recommendation, error)
}

// PriceCache provides fast access to the latest observed price per instrument.
type PriceCache interface {
	SetPrice(ctx context.Context, instrumentKey string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, instrumentKey string) (float64, time.Time, error)
}

// EventBus fans lifecycle events out to external observers (UI, alerting).
// Publish is fire-and-forget from the engine's perspective.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
