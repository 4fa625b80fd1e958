package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// OrderStore is an in-memory domain.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("%w: order %s", domain.ErrDuplicateOrder, order.ID)
	}
	s.orders[order.ID] = order
	return nil
}

// Get returns an order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	order, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

// MarkFilled moves an order to its terminal filled state.
func (s *OrderStore) MarkFilled(ctx context.Context, id string, fillPrice float64, filledAt time.Time) error {
	return s.finalize(id, func(o *domain.Order) {
		o.Status = domain.OrderStatusFilled
		o.FillPrice = &fillPrice
		o.FilledAt = &filledAt
	})
}

// MarkRejected moves an order to its terminal rejected state, keeping the
// broker's reason verbatim.
func (s *OrderStore) MarkRejected(ctx context.Context, id string, reason string) error {
	return s.finalize(id, func(o *domain.Order) {
		o.Status = domain.OrderStatusRejected
		o.RejectReason = reason
	})
}

func (s *OrderStore) finalize(id string, apply func(*domain.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if order.Terminal() {
		return fmt.Errorf("%w: order %s already %s", domain.ErrInvalidState, id, order.Status)
	}
	apply(&order)
	s.orders[id] = order
	return nil
}

// ListRecent returns orders newest first.
func (s *OrderStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
