package handler

import (
	"log/slog"
	"net/http"

	"github.com/anirudhsk/optrader/internal/domain"
)

// AdvisoryHandler serves trading signals and recommendations fetched from
// the advisory feed. Read-only; nothing here trades.
type AdvisoryHandler struct {
	feed   domain.AdvisoryFeed
	logger *slog.Logger
}

// NewAdvisoryHandler creates an AdvisoryHandler.
func NewAdvisoryHandler(feed domain.AdvisoryFeed, logger *slog.Logger) *AdvisoryHandler {
	return &AdvisoryHandler{
		feed:   feed,
		logger: logger,
	}
}

// ListSignals returns the current hourly signals.
// GET /api/signals
func (h *AdvisoryHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := h.feed.Signals(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: fetch signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch signals")
		return
	}

	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

// ListRecommendations returns the daily trade recommendations.
// GET /api/recommendations
func (h *AdvisoryHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.feed.Recommendations(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: fetch recommendations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch recommendations")
		return
	}

	if recs == nil {
		recs = []domain.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}
