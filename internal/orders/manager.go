// Package orders implements the order lifecycle: validation, duplicate
// detection, broker submission, and position creation from confirmed fills.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/events"
)

// Manager owns order submission. The order ID is the idempotency key: a
// second submission with an ID that already passed validation is rejected
// with ErrDuplicateOrder and never reaches the broker.
type Manager struct {
	orders    domain.OrderStore
	positions domain.PositionStore
	gateway   domain.BrokerGateway
	notifier  *events.Notifier
	feed      domain.InstrumentSubscriber // optional
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewManager creates a Manager.
func NewManager(
	orders domain.OrderStore,
	positions domain.PositionStore,
	gateway domain.BrokerGateway,
	notifier *events.Notifier,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		orders:    orders,
		positions: positions,
		gateway:   gateway,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "orders")),
		seen:      make(map[string]struct{}),
	}
}

// AttachFeed routes the instrument of every newly opened position to a
// streaming feed, so ticks for it start flowing without waiting for a
// reconnect or restart. Attach before serving submissions.
func (m *Manager) AttachFeed(feed domain.InstrumentSubscriber) {
	m.feed = feed
}

// Submit validates and places an order, creating a position on fill.
//
// Invalid orders fail fast with ErrValidation and do not consume their ID;
// a rejected-as-invalid ID may be resubmitted after correction. An ID is
// registered for duplicate detection only once validation passes.
func (m *Manager) Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = domain.OrderStatusCreated
	order.CreatedAt = time.Now().UTC()

	log := m.logger.With(
		slog.String("order_id", order.ID),
		slog.String("instrument", order.Instrument.Key()),
		slog.String("action", string(order.Action)),
		slog.Int("quantity", order.Quantity),
	)

	if err := order.Validate(); err != nil {
		log.WarnContext(ctx, "order rejected by validation", slog.String("error", err.Error()))
		return domain.OrderResult{}, fmt.Errorf("orders: validate %s: %w", order.ID, err)
	}
	if order.StopLoss != nil || order.TakeProfit != nil {
		// Pre-check the bracket against the limit price where one exists; the
		// authoritative check against the actual fill happens at position
		// creation.
		if order.Type == domain.OrderTypeLimit {
			if err := domain.ValidateBracket(order.Action, order.LimitPrice, order.StopLoss, order.TakeProfit); err != nil {
				log.WarnContext(ctx, "order bracket inconsistent with limit price", slog.String("error", err.Error()))
				return domain.OrderResult{}, fmt.Errorf("orders: validate %s: %w", order.ID, err)
			}
		}
	}

	if err := m.register(ctx, order.ID); err != nil {
		log.WarnContext(ctx, "duplicate order id")
		return domain.OrderResult{}, fmt.Errorf("orders: submit %s: %w", order.ID, err)
	}

	if err := m.orders.Create(ctx, order); err != nil {
		return domain.OrderResult{}, fmt.Errorf("orders: persist %s: %w", order.ID, err)
	}

	receipt, err := m.gateway.PlaceOrder(ctx, order)
	if err != nil {
		reason := err.Error()
		if markErr := m.orders.MarkRejected(ctx, order.ID, reason); markErr != nil {
			log.ErrorContext(ctx, "mark rejected failed", slog.String("error", markErr.Error()))
		}
		log.WarnContext(ctx, "order rejected by broker", slog.String("reason", reason))
		return domain.OrderResult{
			OrderID: order.ID,
			Status:  domain.OrderStatusRejected,
			Message: reason,
		}, fmt.Errorf("orders: place %s: %w", order.ID, err)
	}

	if err := m.orders.MarkFilled(ctx, order.ID, receipt.FillPrice, receipt.FilledAt); err != nil {
		log.ErrorContext(ctx, "mark filled failed after broker fill", slog.String("error", err.Error()))
		return domain.OrderResult{}, fmt.Errorf("orders: record fill %s: %w", order.ID, err)
	}

	pos, err := m.positions.Create(ctx, order, receipt.FillPrice)
	if err != nil {
		// The fill stands at the broker; the position could not be tracked.
		log.ErrorContext(ctx, "position creation failed for filled order",
			slog.Float64("fill_price", receipt.FillPrice),
			slog.String("error", err.Error()),
		)
		return domain.OrderResult{
			OrderID:   order.ID,
			Status:    domain.OrderStatusFilled,
			FillPrice: receipt.FillPrice,
		}, fmt.Errorf("orders: open position for %s: %w", order.ID, err)
	}

	log.InfoContext(ctx, "order filled",
		slog.Float64("fill_price", receipt.FillPrice),
		slog.String("position_id", pos.ID),
	)

	if m.feed != nil {
		m.feed.Subscribe(pos.Instrument)
	}

	m.notifier.Publish(domain.LifecycleEvent{
		Kind:       domain.EventOpened,
		PositionID: pos.ID,
		Instrument: pos.Instrument.Key(),
		At:         receipt.FilledAt,
		Detail: map[string]any{
			"order_id":   order.ID,
			"action":     string(pos.Action),
			"quantity":   pos.Quantity,
			"fill_price": receipt.FillPrice,
		},
	})

	return domain.OrderResult{
		OrderID:    order.ID,
		Status:     domain.OrderStatusFilled,
		FillPrice:  receipt.FillPrice,
		PositionID: pos.ID,
	}, nil
}

// register claims an order ID, checking both the in-process set and the
// persisted order history.
func (m *Manager) register(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[id]; dup {
		return domain.ErrDuplicateOrder
	}
	if _, err := m.orders.Get(ctx, id); err == nil {
		m.seen[id] = struct{}{}
		return domain.ErrDuplicateOrder
	}

	m.seen[id] = struct{}{}
	return nil
}

// Get returns a single order by ID.
func (m *Manager) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := m.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: get %s: %w", id, err)
	}
	return order, nil
}

// ListRecent returns recently created orders, newest first.
func (m *Manager) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	list, err := m.orders.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("orders: list recent: %w", err)
	}
	return list, nil
}
