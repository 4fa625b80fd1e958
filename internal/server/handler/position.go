package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/risk"
)

// PositionService is the slice of the position store the handler needs.
type PositionService interface {
	Get(ctx context.Context, id string) (domain.Position, error)
	ListOpen(ctx context.Context) ([]domain.Position, error)
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	UpdateRules(ctx context.Context, id string, stopLoss, takeProfit *float64) (domain.Position, error)
}

// PositionCloser closes a position on demand, competing with automatic
// triggers for the closure reservation.
type PositionCloser interface {
	CloseManual(ctx context.Context, positionID string) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	closer    PositionCloser
	prices    domain.PriceCache // optional
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. prices may be nil; position
// views then omit live valuation.
func NewPositionHandler(positions PositionService, closer PositionCloser, prices domain.PriceCache, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		prices:    prices,
		logger:    logger,
	}
}

// positionView is the wire representation of a position, enriched with the
// latest cached price and unrealized P&L when available.
type positionView struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	OptionType   string   `json:"optionType"`
	StrikePrice  float64  `json:"strikePrice"`
	ExpiryDate   string   `json:"expiryDate"`
	Action       string   `json:"action"`
	Quantity     int      `json:"quantity"`
	EntryPrice   float64  `json:"entryPrice"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	TakeProfit   *float64 `json:"takeProfit,omitempty"`
	Status       string   `json:"status"`
	OpenedAt     string   `json:"openedAt"`
	ClosedAt     *string  `json:"closedAt,omitempty"`
	ExitPrice    *float64 `json:"exitPrice,omitempty"`
	CloseReason  *string  `json:"closeReason,omitempty"`
	CurrentPrice *float64 `json:"currentPrice,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	PnLPercent   *float64 `json:"pnlPercent,omitempty"`
}

func (h *PositionHandler) view(ctx context.Context, pos domain.Position) positionView {
	v := positionView{
		ID:          pos.ID,
		Symbol:      pos.Instrument.Symbol,
		OptionType:  string(pos.Instrument.OptionType),
		StrikePrice: pos.Instrument.StrikePrice,
		ExpiryDate:  pos.Instrument.ExpiryDate,
		Action:      string(pos.Action),
		Quantity:    pos.Quantity,
		EntryPrice:  pos.AvgEntryPrice,
		StopLoss:    pos.StopLoss,
		TakeProfit:  pos.TakeProfit,
		Status:      string(pos.Status),
		OpenedAt:    pos.OpenedAt.Format(time.RFC3339),
		ExitPrice:   pos.ExitPrice,
	}
	if pos.ClosedAt != nil {
		closedAt := pos.ClosedAt.Format(time.RFC3339)
		v.ClosedAt = &closedAt
	}
	if pos.CloseReason != nil {
		reason := string(*pos.CloseReason)
		v.CloseReason = &reason
	}

	if pos.Status == domain.PositionStatusClosed {
		if pos.ExitPrice != nil {
			pnl, pct := risk.PnL(pos, *pos.ExitPrice)
			v.PnL = &pnl
			v.PnLPercent = &pct
		}
		return v
	}

	if h.prices != nil {
		if price, _, err := h.prices.GetPrice(ctx, pos.Instrument.Key()); err == nil {
			pnl, pct := risk.PnL(pos, price)
			v.CurrentPrice = &price
			v.PnL = &pnl
			v.PnLPercent = &pct
		}
	}
	return v
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns all open positions with live valuation.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, h.view(r.Context(), pos))
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

// GetPosition returns a single position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, h.view(r.Context(), pos))
}

// ClosePosition requests a manual closure of an open position.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.closer.CloseManual(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	writeJSON(w, http.StatusOK, h.view(r.Context(), pos))
}

// updateRulesRequest carries new stop-loss / take-profit levels. A missing
// field leaves the level unset (removed).
type updateRulesRequest struct {
	StopLoss   *float64 `json:"stopLoss"`
	TakeProfit *float64 `json:"takeProfit"`
}

// UpdateRules replaces the risk rules of an open position.
// PUT /api/positions/{id}/rules
func (h *PositionHandler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	var req updateRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pos, err := h.positions.UpdateRules(r.Context(), id, req.StopLoss, req.TakeProfit)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update rules failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update rules")
		return
	}

	writeJSON(w, http.StatusOK, h.view(r.Context(), pos))
}

// ListHistory returns historical positions, newest first.
// GET /api/positions/history?limit=50&offset=0
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	positions, err := h.positions.ListHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, h.view(r.Context(), pos))
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}
