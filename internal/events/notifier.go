// Package events implements the lifecycle event notifier: a one-way fan-out
// of position lifecycle facts to registered handlers (event bus, operator
// notifications, audit log, websocket hub). Delivery is at-least-once and
// fire-and-forget; publishers never block on a subscriber.
package events

import (
	"context"
	"log/slog"

	"github.com/anirudhsk/optrader/internal/domain"
)

// Handler receives lifecycle events. Handlers run on the notifier's dispatch
// goroutine; a failing handler is logged and never stops dispatch.
type Handler interface {
	HandleEvent(ctx context.Context, ev domain.LifecycleEvent)
	Name() string
}

// Notifier buffers published events and dispatches them to all handlers in
// registration order. Publish never blocks: when the buffer is full the
// event is dropped with a warning rather than stalling the engine.
type Notifier struct {
	handlers []Handler
	ch       chan domain.LifecycleEvent
	logger   *slog.Logger
}

// NewNotifier creates a Notifier with the given buffer size (defaults to 256
// when non-positive).
func NewNotifier(buffer int, logger *slog.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		ch:     make(chan domain.LifecycleEvent, buffer),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Register adds a handler. Register before Run; handlers are not
// synchronized against dispatch.
func (n *Notifier) Register(h Handler) {
	n.handlers = append(n.handlers, h)
}

// Publish enqueues an event for dispatch without blocking.
func (n *Notifier) Publish(ev domain.LifecycleEvent) {
	select {
	case n.ch <- ev:
	default:
		n.logger.Warn("event buffer full, dropping event",
			slog.String("kind", string(ev.Kind)),
			slog.String("position_id", ev.PositionID),
		)
	}
}

// Run dispatches events until the context is cancelled, then drains the
// buffer so nothing already published is lost on shutdown.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("event notifier started", slog.Int("handlers", len(n.handlers)))
	defer n.logger.Info("event notifier stopped")

	for {
		select {
		case <-ctx.Done():
			n.drain()
			return ctx.Err()
		case ev := <-n.ch:
			n.dispatch(ctx, ev)
		}
	}
}

func (n *Notifier) drain() {
	// Use a background context: handlers still get a usable context for
	// their own deadlines even though the run context is cancelled.
	ctx := context.Background()
	for {
		select {
		case ev := <-n.ch:
			n.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, ev domain.LifecycleEvent) {
	for _, h := range n.handlers {
		h.HandleEvent(ctx, ev)
	}
}
