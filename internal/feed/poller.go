package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// PollerConfig holds the HTTP polling feed parameters.
type PollerConfig struct {
	QuoteURL    string
	AccessToken string
	Interval    time.Duration
	Timeout     time.Duration
}

// quoteResponse is the wire format of the quote endpoint.
type quoteResponse struct {
	LTP       float64 `json:"ltp"`
	Timestamp int64   `json:"timestamp"`
}

// Poller fetches quotes for every instrument with an open position at a
// fixed interval. It is the fallback tick source when no streaming feed is
// configured, and for paper trading against simulated marks.
type Poller struct {
	cfg    PollerConfig
	store  domain.PositionStore
	client *http.Client
	logger *slog.Logger
	ticks  chan domain.PriceTick
}

// NewPoller creates a polling feed. The instrument set is re-derived from the
// store's open positions on every cycle, so new positions are picked up
// without explicit subscription.
func NewPoller(cfg PollerConfig, store domain.PositionStore, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "poll_feed")),
		ticks:  make(chan domain.PriceTick, 256),
	}
}

// Ticks returns the channel of fetched quotes. It is closed when Run returns.
func (p *Poller) Ticks() <-chan domain.PriceTick {
	return p.ticks
}

// Run polls until ctx is cancelled. Individual quote failures are logged and
// skipped; the loop itself only stops on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.ticks)

	p.logger.InfoContext(ctx, "poll feed started", slog.Duration("interval", p.cfg.Interval))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches one quote per distinct open-position instrument.
func (p *Poller) poll(ctx context.Context) {
	positions, err := p.store.ListOpen(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "list open positions failed", slog.String("error", err.Error()))
		return
	}

	seen := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		key := pos.Instrument.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		tick, err := p.fetchQuote(ctx, pos.Instrument)
		if err != nil {
			p.logger.WarnContext(ctx, "quote fetch failed",
				slog.String("instrument", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case p.ticks <- tick:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) fetchQuote(ctx context.Context, instrument domain.Instrument) (domain.PriceTick, error) {
	q := url.Values{}
	q.Set("symbol", instrument.Symbol)
	q.Set("optionType", string(instrument.OptionType))
	q.Set("strikePrice", fmt.Sprintf("%.2f", instrument.StrikePrice))
	q.Set("expiryDate", instrument.ExpiryDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.QuoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: build quote request: %w", err)
	}
	if p.cfg.AccessToken != "" {
		req.Header.Set("access-token", p.cfg.AccessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PriceTick{}, fmt.Errorf("feed: quote endpoint returned %d", resp.StatusCode)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return domain.PriceTick{}, fmt.Errorf("feed: decode quote: %w", err)
	}
	if quote.LTP <= 0 {
		return domain.PriceTick{}, fmt.Errorf("feed: quote has non-positive ltp %.4f", quote.LTP)
	}

	observedAt := time.Now().UTC()
	if quote.Timestamp > 0 {
		observedAt = time.UnixMilli(quote.Timestamp).UTC()
	}

	return domain.PriceTick{
		Instrument: instrument,
		Price:      quote.LTP,
		ObservedAt: observedAt,
	}, nil
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Poller)(nil)
