package domain

import "time"

// EventKind classifies lifecycle events.
type EventKind string

const (
	EventOpened      EventKind = "OPENED"
	EventClosed      EventKind = "CLOSED"
	EventTriggered   EventKind = "TRIGGERED"
	EventCloseFailed EventKind = "CLOSE_FAILED"
	EventValuation   EventKind = "VALUATION"
)

// LifecycleEvent is an immutable fact emitted by the engine and the order
// manager. Delivery to subscribers is at-least-once, fire-and-forget.
type LifecycleEvent struct {
	Kind       EventKind      `json:"kind"`
	PositionID string         `json:"position_id"`
	Instrument string         `json:"instrument"`
	At         time.Time      `json:"at"`
	Detail     map[string]any `json:"detail,omitempty"`
}
