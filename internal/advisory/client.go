// Package advisory fetches trading signals and recommendations from the
// advisory HTTP service. Advisory data is informational only; nothing here
// places or closes positions.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// Config holds the advisory service connection parameters.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the advisory service's REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates an advisory client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Signals returns the current hourly signals.
func (c *Client) Signals(ctx context.Context) ([]domain.Signal, error) {
	var out struct {
		Signals []domain.Signal `json:"signals"`
	}
	if err := c.get(ctx, "/signals", &out); err != nil {
		return nil, fmt.Errorf("advisory: fetch signals: %w", err)
	}
	return out.Signals, nil
}

// Recommendations returns the daily trade recommendations.
func (c *Client) Recommendations(ctx context.Context) ([]domain.Recommendation, error) {
	var out struct {
		Recommendations []domain.Recommendation `json:"recommendations"`
	}
	if err := c.get(ctx, "/recommendations", &out); err != nil {
		return nil, fmt.Errorf("advisory: fetch recommendations: %w", err)
	}
	return out.Recommendations, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AdvisoryFeed = (*Client)(nil)
