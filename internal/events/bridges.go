package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/notify"
)

// BusBridge forwards events to the external event bus as JSON, on the
// "events" pub/sub channel and the durable "events:log" stream.
type BusBridge struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewBusBridge creates a BusBridge.
func NewBusBridge(bus domain.EventBus, logger *slog.Logger) *BusBridge {
	return &BusBridge{bus: bus, logger: logger.With(slog.String("component", "event_bus_bridge"))}
}

// Name implements Handler.
func (b *BusBridge) Name() string { return "bus" }

// HandleEvent implements Handler.
func (b *BusBridge) HandleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, "events", payload); err != nil {
		b.logger.WarnContext(ctx, "publish event failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
	if ev.Kind != domain.EventValuation {
		if err := b.bus.StreamAppend(ctx, "events:log", payload); err != nil {
			b.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
	}
}

// AuditBridge records non-valuation events in the append-only audit log.
type AuditBridge struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditBridge creates an AuditBridge.
func NewAuditBridge(audit domain.AuditStore, logger *slog.Logger) *AuditBridge {
	return &AuditBridge{audit: audit, logger: logger.With(slog.String("component", "event_audit_bridge"))}
}

// Name implements Handler.
func (b *AuditBridge) Name() string { return "audit" }

// HandleEvent implements Handler.
func (b *AuditBridge) HandleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	if ev.Kind == domain.EventValuation {
		return
	}
	detail := map[string]any{
		"position_id": ev.PositionID,
		"instrument":  ev.Instrument,
		"at":          ev.At,
	}
	for k, v := range ev.Detail {
		detail[k] = v
	}
	if err := b.audit.Log(ctx, "position_"+string(ev.Kind), detail); err != nil {
		b.logger.WarnContext(ctx, "audit log failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// NotifyBridge formats trigger and closure events for operator channels
// (Telegram, Discord). Valuation events are bus-only and never reach
// operators.
type NotifyBridge struct {
	notifier *notify.Notifier
}

// NewNotifyBridge creates a NotifyBridge.
func NewNotifyBridge(notifier *notify.Notifier) *NotifyBridge {
	return &NotifyBridge{notifier: notifier}
}

// Name implements Handler.
func (b *NotifyBridge) Name() string { return "notify" }

// HandleEvent implements Handler.
func (b *NotifyBridge) HandleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	var title, event string
	switch ev.Kind {
	case domain.EventOpened:
		title, event = "Position opened", "position_opened"
	case domain.EventTriggered:
		title, event = "Risk trigger fired", "position_triggered"
	case domain.EventClosed:
		title, event = "Position closed", "position_closed"
	case domain.EventCloseFailed:
		title, event = "Position closure FAILED", "close_failed"
	default:
		return
	}

	msg := fmt.Sprintf("%s %s", ev.Instrument, ev.PositionID)
	if reason, ok := ev.Detail["reason"]; ok {
		msg = fmt.Sprintf("%s\nreason: %v", msg, reason)
	}
	if price, ok := ev.Detail["price"]; ok {
		msg = fmt.Sprintf("%s\nprice: %v", msg, price)
	}
	if pnl, ok := ev.Detail["pnl"]; ok {
		msg = fmt.Sprintf("%s\npnl: %v", msg, pnl)
	}

	// Errors are already logged inside the notifier; nothing to do here.
	_ = b.notifier.Notify(ctx, event, title, msg)
}
