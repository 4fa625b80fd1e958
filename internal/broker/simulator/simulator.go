// Package simulator implements an in-process broker gateway with realistic
// latency and failure behavior for paper trading and tests.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anirudhsk/optrader/internal/domain"
)

// Config tunes the simulator's behavior.
type Config struct {
	// Latency is applied to every call before a response is produced.
	Latency time.Duration
	// FailureRate in [0,1] is the probability a call returns a transient
	// failure.
	FailureRate float64
	// SlippageBps shifts fills away from the mark price, against the caller.
	SlippageBps float64
	// Seed makes the simulator deterministic when non-zero.
	Seed int64
}

// Gateway is a fake broker. Fills happen at the instrument's mark price
// (set via SetMark), or at the order's limit price when no mark is known.
type Gateway struct {
	cfg Config

	mu    sync.Mutex
	marks map[string]float64
	rng   *rand.Rand
}

// New creates a simulator gateway.
func New(cfg Config) *Gateway {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Gateway{
		cfg:   cfg,
		marks: make(map[string]float64),
		rng:   rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMark sets the current mark price for an instrument key. Feeds call this
// so simulated fills track the market.
func (g *Gateway) SetMark(instrumentKey string, price float64) {
	g.mu.Lock()
	g.marks[instrumentKey] = price
	g.mu.Unlock()
}

// PlaceOrder fills the order at the mark price adjusted for slippage.
func (g *Gateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderReceipt, error) {
	if err := g.simulate(ctx); err != nil {
		return domain.OrderReceipt{}, err
	}

	price := g.fillPrice(order.Instrument.Key(), order.Action)
	if price <= 0 {
		if order.Type != domain.OrderTypeLimit {
			return domain.OrderReceipt{}, fmt.Errorf("%w: simulator has no mark price for %s", domain.ErrGatewayPermanent, order.Instrument.Key())
		}
		price = order.LimitPrice
	}

	return domain.OrderReceipt{
		BrokerOrderID: "SIM-" + uuid.New().String(),
		FillPrice:     price,
		FilledAt:      time.Now().UTC(),
	}, nil
}

// ClosePosition fills the closure at the mark price adjusted for slippage.
func (g *Gateway) ClosePosition(ctx context.Context, pos domain.Position) (domain.CloseReceipt, error) {
	if err := g.simulate(ctx); err != nil {
		return domain.CloseReceipt{}, err
	}

	// Closing trades against the opposite side.
	side := domain.ActionSell
	if pos.Action == domain.ActionSell {
		side = domain.ActionBuy
	}
	price := g.fillPrice(pos.Instrument.Key(), side)
	if price <= 0 {
		price = pos.AvgEntryPrice
	}

	return domain.CloseReceipt{
		FillPrice: price,
		ClosedAt:  time.Now().UTC(),
	}, nil
}

// simulate applies latency and the configured failure rate.
func (g *Gateway) simulate(ctx context.Context) error {
	if g.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.cfg.Latency):
		}
	}

	g.mu.Lock()
	fail := g.cfg.FailureRate > 0 && g.rng.Float64() < g.cfg.FailureRate
	g.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: simulated broker outage", domain.ErrGatewayTransient)
	}
	return nil
}

// fillPrice returns the mark adjusted against the taker by SlippageBps.
func (g *Gateway) fillPrice(instrumentKey string, side domain.OrderAction) float64 {
	g.mu.Lock()
	mark := g.marks[instrumentKey]
	g.mu.Unlock()
	if mark <= 0 {
		return 0
	}

	slip := mark * g.cfg.SlippageBps / 10_000
	if side == domain.ActionBuy {
		return mark + slip
	}
	return mark - slip
}

// Compile-time interface check.
var _ domain.BrokerGateway = (*Gateway)(nil)
