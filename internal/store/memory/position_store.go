// Package memory implements the domain stores in process memory. It backs
// paper mode and tests; the state machine semantics are identical to the
// PostgreSQL implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anirudhsk/optrader/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore. A single mutex guards
// the map; every transition is atomic with respect to the others, which is
// all the reservation discipline requires.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Create builds an open position from a filled order.
func (s *PositionStore) Create(ctx context.Context, order domain.Order, fillPrice float64) (domain.Position, error) {
	pos, err := domain.NewPositionFromFill(uuid.New().String(), order, fillPrice, time.Now().UTC())
	if err != nil {
		return domain.Position{}, err
	}

	s.mu.Lock()
	s.positions[pos.ID] = pos
	s.mu.Unlock()
	return pos, nil
}

// Get returns a position by id.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	pos, ok := s.positions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListOpen returns open positions ordered by opened-at, then id for ties.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.listOpen(""), nil
}

// ListOpenByInstrument returns open positions on the given instrument.
func (s *PositionStore) ListOpenByInstrument(ctx context.Context, instrumentKey string) ([]domain.Position, error) {
	return s.listOpen(instrumentKey), nil
}

func (s *PositionStore) listOpen(instrumentKey string) []domain.Position {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		if instrumentKey != "" && p.Instrument.Key() != instrumentKey {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reserve transitions open→closing.
func (s *PositionStore) Reserve(ctx context.Context, id string) error {
	return s.transition(id, domain.PositionStatusOpen, domain.PositionStatusClosing)
}

// Release transitions closing→open.
func (s *PositionStore) Release(ctx context.Context, id string) error {
	return s.transition(id, domain.PositionStatusClosing, domain.PositionStatusOpen)
}

func (s *PositionStore) transition(id string, from, to domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != from {
		return fmt.Errorf("%w: position %s is %s, want %s", domain.ErrInvalidState, id, pos.Status, from)
	}
	pos.Status = to
	s.positions[id] = pos
	return nil
}

// FinalizeClose transitions closing→closed and records the closure facts.
func (s *PositionStore) FinalizeClose(ctx context.Context, id string, reason domain.CloseReason, closePrice float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionStatusClosing {
		return fmt.Errorf("%w: position %s is %s, want closing", domain.ErrInvalidState, id, pos.Status)
	}

	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = &closePrice
	pos.ClosedAt = &closedAt
	pos.CloseReason = &reason
	s.positions[id] = pos
	return nil
}

// UpdateRules replaces the bracket of an open position.
func (s *PositionStore) UpdateRules(ctx context.Context, id string, stopLoss, takeProfit *float64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if pos.Status != domain.PositionStatusOpen {
		return domain.Position{}, fmt.Errorf("%w: position %s is %s, rules are mutable only while open", domain.ErrInvalidState, id, pos.Status)
	}
	if err := domain.ValidateBracket(pos.Action, pos.AvgEntryPrice, stopLoss, takeProfit); err != nil {
		return domain.Position{}, err
	}

	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	s.positions[id] = pos
	return pos, nil
}

// ReopenStale sweeps closing positions back to open.
func (s *PositionStore) ReopenStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, pos := range s.positions {
		if pos.Status == domain.PositionStatusClosing {
			pos.Status = domain.PositionStatusOpen
			s.positions[id] = pos
			n++
		}
	}
	return n, nil
}

// ListClosedBefore returns closed positions older than the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteClosed removes closed positions by id. Non-closed positions are
// never deleted.
func (s *PositionStore) DeleteClosed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if pos, ok := s.positions[id]; ok && pos.Status == domain.PositionStatusClosed {
			delete(s.positions, id)
		}
	}
	return nil
}

// ListHistory returns all positions, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.Position{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
