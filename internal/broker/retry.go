// Package broker provides broker gateway implementations and the retry
// decorator that enforces the transient-vs-permanent failure policy.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// RetryPolicy bounds the retry behavior for transient gateway failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the documented gateway contract: three attempts
// with exponential backoff starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// delay returns the backoff for the given zero-based attempt, capped at
// MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryGateway wraps a BrokerGateway and retries transient failures with
// bounded exponential backoff. Permanent failures and context cancellation
// propagate immediately.
type retryGateway struct {
	inner  domain.BrokerGateway
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry decorates gateway with the given retry policy.
func WithRetry(gateway domain.BrokerGateway, policy RetryPolicy, logger *slog.Logger) domain.BrokerGateway {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryGateway{
		inner:  gateway,
		policy: policy,
		logger: logger.With(slog.String("component", "broker_retry")),
	}
}

func (g *retryGateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderReceipt, error) {
	var receipt domain.OrderReceipt
	err := g.retry(ctx, "place_order", func() error {
		var callErr error
		receipt, callErr = g.inner.PlaceOrder(ctx, order)
		return callErr
	})
	return receipt, err
}

func (g *retryGateway) ClosePosition(ctx context.Context, pos domain.Position) (domain.CloseReceipt, error) {
	var receipt domain.CloseReceipt
	err := g.retry(ctx, "close_position", func() error {
		var callErr error
		receipt, callErr = g.inner.ClosePosition(ctx, pos)
		return callErr
	})
	return receipt, err
}

func (g *retryGateway) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrGatewayTransient) {
			return err
		}
		if attempt == g.policy.MaxAttempts-1 {
			break
		}

		wait := g.policy.delay(attempt)
		g.logger.WarnContext(ctx, "transient gateway failure, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
