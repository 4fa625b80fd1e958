// Package engine implements the monitoring control loop: it consumes price
// ticks, evaluates risk rules against open positions, and drives the
// reservation/close/finalize protocol through the position store and the
// broker gateway.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/events"
	"github.com/anirudhsk/optrader/internal/risk"
)

// Config holds the engine's tunables. Workers bounds throughput only;
// correctness never depends on it.
type Config struct {
	Workers        int
	EmitValuations bool
}

// Engine reacts to price ticks. Ticks are dispatched to a fixed shard per
// instrument so same-instrument ticks process in arrival order while
// different instruments proceed in parallel. The open→closing reservation in
// the store is the sole duplicate-closure guard; the engine never holds a
// lock across a gateway call.
type Engine struct {
	store    domain.PositionStore
	gateway  domain.BrokerGateway
	notifier *events.Notifier
	prices   domain.PriceCache // optional
	cfg      Config
	logger   *slog.Logger

	shards []chan domain.PriceTick
}

// New creates an Engine. prices may be nil when no cache is wired.
func New(
	store domain.PositionStore,
	gateway domain.BrokerGateway,
	notifier *events.Notifier,
	prices domain.PriceCache,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		prices:   prices,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Run consumes ticks until the context is cancelled. It starts one goroutine
// per shard plus a dispatcher; all exit together on cancellation.
func (e *Engine) Run(ctx context.Context, ticks <-chan domain.PriceTick) error {
	e.shards = make([]chan domain.PriceTick, e.cfg.Workers)
	for i := range e.shards {
		e.shards[i] = make(chan domain.PriceTick, 64)
	}

	e.logger.InfoContext(ctx, "engine started", slog.Int("workers", e.cfg.Workers))
	defer e.logger.Info("engine stopped")

	g, ctx := errgroup.WithContext(ctx)

	for i := range e.shards {
		shard := e.shards[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case tick := <-shard:
					e.process(ctx, tick)
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tick, ok := <-ticks:
				if !ok {
					return nil
				}
				shard := e.shards[shardIndex(tick.Instrument.Key(), len(e.shards))]
				select {
				case shard <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	return g.Wait()
}

// shardIndex maps an instrument key to a fixed shard so same-instrument
// ticks never reorder.
func shardIndex(instrumentKey string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instrumentKey))
	return int(h.Sum32() % uint32(n))
}

// process handles one tick: refresh the price cache, then evaluate every
// open position on the instrument.
func (e *Engine) process(ctx context.Context, tick domain.PriceTick) {
	if tick.Price <= 0 {
		e.logger.WarnContext(ctx, "dropping tick with non-positive price",
			slog.String("instrument", tick.Instrument.Key()),
			slog.Float64("price", tick.Price),
		)
		return
	}

	if e.prices != nil {
		if err := e.prices.SetPrice(ctx, tick.Instrument.Key(), tick.Price, tick.ObservedAt); err != nil {
			e.logger.WarnContext(ctx, "price cache update failed",
				slog.String("instrument", tick.Instrument.Key()),
				slog.String("error", err.Error()),
			)
		}
	}

	positions, err := e.store.ListOpenByInstrument(ctx, tick.Instrument.Key())
	if err != nil {
		e.logger.ErrorContext(ctx, "list open positions failed",
			slog.String("instrument", tick.Instrument.Key()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, pos := range positions {
		decision := risk.Evaluate(pos, tick.Price)
		if decision == risk.DecisionNone {
			e.publishValuation(pos, tick.Price)
			continue
		}
		// A single position's failure to close must never take down the
		// loop for the rest; trigger reports through events and logs.
		e.trigger(ctx, pos, tick, decision)
	}
}

// publishValuation emits a passive, non-triggering P&L event.
func (e *Engine) publishValuation(pos domain.Position, price float64) {
	if !e.cfg.EmitValuations {
		return
	}
	pnl, pct := risk.PnL(pos, price)
	e.notifier.Publish(domain.LifecycleEvent{
		Kind:       domain.EventValuation,
		PositionID: pos.ID,
		Instrument: pos.Instrument.Key(),
		At:         time.Now().UTC(),
		Detail: map[string]any{
			"price":       price,
			"pnl":         pnl,
			"pnl_percent": pct,
		},
	})
}

// trigger runs the automatic closure protocol for a breached position.
func (e *Engine) trigger(ctx context.Context, pos domain.Position, tick domain.PriceTick, decision risk.Decision) {
	log := e.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("instrument", pos.Instrument.Key()),
		slog.String("decision", decision.String()),
		slog.Float64("price", tick.Price),
	)

	if err := e.store.Reserve(ctx, pos.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Another tick or a manual close already owns this position.
			log.DebugContext(ctx, "trigger lost reservation race")
			return
		}
		log.ErrorContext(ctx, "reserve failed", slog.String("error", err.Error()))
		return
	}

	receipt, err := e.executeClose(ctx, pos, decision.Reason())
	if err != nil {
		log.WarnContext(ctx, "automatic closure failed, position re-armed",
			slog.String("error", err.Error()),
		)
		return
	}

	// Events follow the confirmed fill: TRIGGERED, then CLOSED. A failed
	// closure emits neither; the retry that finally lands reports once.
	e.notifier.Publish(domain.LifecycleEvent{
		Kind:       domain.EventTriggered,
		PositionID: pos.ID,
		Instrument: pos.Instrument.Key(),
		At:         time.Now().UTC(),
		Detail: map[string]any{
			"reason": string(decision.Reason()),
			"price":  tick.Price,
		},
	})
	e.publishClosed(pos, decision.Reason(), receipt)
	log.InfoContext(ctx, "position closed by trigger")
}

// CloseManual closes a position on user request. It competes for the same
// reservation as automatic triggers; losing the race surfaces
// ErrInvalidState to the caller.
func (e *Engine) CloseManual(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := e.store.Get(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: get position %q: %w", positionID, err)
	}

	if err := e.store.Reserve(ctx, pos.ID); err != nil {
		return domain.Position{}, fmt.Errorf("engine: reserve position %q: %w", positionID, err)
	}

	receipt, err := e.executeClose(ctx, pos, domain.CloseReasonManual)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: manual close %q: %w", positionID, err)
	}
	e.publishClosed(pos, domain.CloseReasonManual, receipt)

	closed, err := e.store.Get(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: reload position %q: %w", positionID, err)
	}
	return closed, nil
}

// executeClose requests closure from the broker and finalizes the position.
// The caller must already hold the closing reservation and publishes the
// success events itself. On gateway failure the reservation is released so
// future ticks can retry, and a close-failed event is emitted; the position
// is never left stuck in closing.
func (e *Engine) executeClose(ctx context.Context, pos domain.Position, reason domain.CloseReason) (domain.CloseReceipt, error) {
	receipt, err := e.gateway.ClosePosition(ctx, pos)
	if err != nil {
		if relErr := e.store.Release(ctx, pos.ID); relErr != nil {
			e.logger.ErrorContext(ctx, "release after failed closure failed",
				slog.String("position_id", pos.ID),
				slog.String("error", relErr.Error()),
			)
		}
		e.notifier.Publish(domain.LifecycleEvent{
			Kind:       domain.EventCloseFailed,
			PositionID: pos.ID,
			Instrument: pos.Instrument.Key(),
			At:         time.Now().UTC(),
			Detail: map[string]any{
				"reason": string(reason),
				"error":  err.Error(),
			},
		})
		return domain.CloseReceipt{}, fmt.Errorf("close position %s: %w", pos.ID, err)
	}

	if err := e.store.FinalizeClose(ctx, pos.ID, reason, receipt.FillPrice, receipt.ClosedAt); err != nil {
		// The fill already happened at the broker; surface loudly instead of
		// guessing a repair.
		e.logger.ErrorContext(ctx, "finalize close failed after broker fill",
			slog.String("position_id", pos.ID),
			slog.Float64("fill_price", receipt.FillPrice),
			slog.String("error", err.Error()),
		)
		return domain.CloseReceipt{}, fmt.Errorf("finalize close %s: %w", pos.ID, err)
	}
	return receipt, nil
}

// publishClosed reports a confirmed closure with its realized P&L.
func (e *Engine) publishClosed(pos domain.Position, reason domain.CloseReason, receipt domain.CloseReceipt) {
	pnl, pct := risk.PnL(pos, receipt.FillPrice)
	e.notifier.Publish(domain.LifecycleEvent{
		Kind:       domain.EventClosed,
		PositionID: pos.ID,
		Instrument: pos.Instrument.Key(),
		At:         receipt.ClosedAt,
		Detail: map[string]any{
			"reason":      string(reason),
			"price":       receipt.FillPrice,
			"pnl":         pnl,
			"pnl_percent": pct,
		},
	})
}

// Recover re-arms positions left in closing by a previous run. A closure
// that was never confirmed did not happen, so those positions are treated as
// open again and re-evaluated on the next tick.
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.store.ReopenStale(ctx)
	if err != nil {
		return fmt.Errorf("engine: recover stale positions: %w", err)
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "re-armed stale closing positions", slog.Int("count", n))
	}
	return nil
}
