package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the single source of truth for positions. All state
// transitions are atomic per position; the open→closing reservation is the
// only mechanism that prevents two concurrent closure attempts from both
// proceeding.
type PositionStore interface {
	// Create builds an open position from a filled order and the confirmed
	// fill price. Fails with ErrInvalidFill on a bad fill and ErrInvalidRule
	// when the requested bracket does not fit the fill price.
	Create(ctx context.Context, order Order, fillPrice float64) (Position, error)

	Get(ctx context.Context, id string) (Position, error)

	// ListOpen returns a snapshot of open positions in stable opened-at order.
	ListOpen(ctx context.Context) ([]Position, error)

	// ListOpenByInstrument returns open positions on one instrument, in
	// stable opened-at order.
	ListOpenByInstrument(ctx context.Context, instrumentKey string) ([]Position, error)

	// Reserve transitions open→closing so exactly one closure attempt
	// proceeds. Fails with ErrInvalidState unless the position is open.
	Reserve(ctx context.Context, id string) error

	// Release reverses closing→open after a failed closure so future ticks
	// can retry. Fails with ErrInvalidState unless the position is closing.
	Release(ctx context.Context, id string) error

	// FinalizeClose transitions closing→closed, recording the reason and the
	// broker fill. Fails with ErrInvalidState unless the position is closing.
	FinalizeClose(ctx context.Context, id string, reason CloseReason, closePrice float64, closedAt time.Time) error

	// UpdateRules replaces the stop-loss / take-profit levels of an open
	// position, re-validating the bracket invariant. Fails with
	// ErrInvalidState when the position is not open and ErrInvalidRule when
	// the new bracket is inconsistent.
	UpdateRules(ctx context.Context, id string, stopLoss, takeProfit *float64) (Position, error)

	// ReopenStale sweeps positions stuck in closing back to open. Run at
	// startup: a closure that was never confirmed did not happen.
	ReopenStale(ctx context.Context) (int, error)

	// ListClosedBefore returns closed positions whose close time is before
	// the cutoff, oldest first, for archival.
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)

	// DeleteClosed removes archived closed positions.
	DeleteClosed(ctx context.Context, ids []string) error

	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// OrderStore persists order lifecycle records.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	MarkFilled(ctx context.Context, id string, fillPrice float64, filledAt time.Time) error
	MarkRejected(ctx context.Context, id string, reason string) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Order, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
