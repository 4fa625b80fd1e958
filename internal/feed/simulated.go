package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// MarkSetter receives the simulated mark so fills and ticks stay consistent.
// The simulator broker implements it.
type MarkSetter interface {
	SetMark(instrumentKey string, price float64)
}

// SimulatedConfig holds the paper-trading feed parameters.
type SimulatedConfig struct {
	Interval time.Duration
	// DriftBps is the per-tick random walk magnitude in basis points.
	DriftBps float64
	Seed     int64
}

// Simulated generates a random-walk price series for every instrument with
// an open position. Used in paper mode where no real market feed exists.
type Simulated struct {
	cfg    SimulatedConfig
	store  domain.PositionStore
	marks  MarkSetter
	logger *slog.Logger
	ticks  chan domain.PriceTick

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewSimulated creates a paper-trading feed. marks may be nil.
func NewSimulated(cfg SimulatedConfig, store domain.PositionStore, marks MarkSetter, logger *slog.Logger) *Simulated {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.DriftBps <= 0 {
		cfg.DriftBps = 75
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		cfg:    cfg,
		store:  store,
		marks:  marks,
		logger: logger.With(slog.String("component", "sim_feed")),
		ticks:  make(chan domain.PriceTick, 256),
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		prices: make(map[string]float64),
	}
}

// Ticks returns the channel of simulated ticks. Closed when Run returns.
func (s *Simulated) Ticks() <-chan domain.PriceTick {
	return s.ticks
}

// Run emits one tick per open-position instrument each interval until ctx is
// cancelled. Each series starts at the position's entry price.
func (s *Simulated) Run(ctx context.Context) error {
	defer close(s.ticks)

	s.logger.InfoContext(ctx, "simulated feed started", slog.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

func (s *Simulated) step(ctx context.Context) {
	positions, err := s.store.ListOpen(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list open positions failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		key := pos.Instrument.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		price := s.nextPrice(key, pos.AvgEntryPrice)
		if s.marks != nil {
			s.marks.SetMark(key, price)
		}

		select {
		case s.ticks <- domain.PriceTick{Instrument: pos.Instrument, Price: price, ObservedAt: now}:
		case <-ctx.Done():
			return
		}
	}
}

// nextPrice advances the random walk for one instrument, seeding the series
// from the entry price on first sight. Prices are floored just above zero.
func (s *Simulated) nextPrice(key string, entry float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[key]
	if !ok {
		price = entry
	}

	drift := (s.rng.Float64()*2 - 1) * s.cfg.DriftBps / 10_000
	price *= 1 + drift
	if price < 0.05 {
		price = 0.05
	}

	s.prices[key] = price
	return price
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Simulated)(nil)
