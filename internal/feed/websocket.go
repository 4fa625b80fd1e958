// Package feed provides price tick sources for the monitoring engine: a
// WebSocket market feed with automatic reconnection and an HTTP polling
// fallback.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anirudhsk/optrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WebSocketConfig holds the market feed connection parameters.
type WebSocketConfig struct {
	URL         string
	AccessToken string
	ClientID    string
}

// tickMessage is the wire format of a market tick from the feed endpoint.
type tickMessage struct {
	Symbol     string  `json:"symbol"`
	OptionType string  `json:"optionType"`
	Strike     float64 `json:"strikePrice"`
	ExpiryDate string  `json:"expiryDate"`
	LTP        float64 `json:"ltp"`
	Timestamp  int64   `json:"timestamp"`
}

// subscribeCommand asks the feed server to stream ticks for instruments.
type subscribeCommand struct {
	Action      string   `json:"action"`
	Instruments []string `json:"instruments"`
}

// WebSocketFeed streams live option prices over a WebSocket connection and
// republishes them as domain ticks. It reconnects with exponential backoff
// and restores subscriptions after a reconnect.
type WebSocketFeed struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]domain.Instrument
	conn          *websocket.Conn // live connection, nil while disconnected

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex

	ticks chan domain.PriceTick
}

// NewWebSocketFeed creates a feed. Instruments can be added before or during
// Run via Subscribe; ticks for unknown instruments are dropped.
func NewWebSocketFeed(cfg WebSocketConfig, logger *slog.Logger) *WebSocketFeed {
	return &WebSocketFeed{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "ws_feed")),
		subscriptions: make(map[string]domain.Instrument),
		ticks:         make(chan domain.PriceTick, 256),
	}
}

// Ticks returns the channel of decoded market ticks. It is closed when Run
// returns.
func (f *WebSocketFeed) Ticks() <-chan domain.PriceTick {
	return f.ticks
}

// Subscribe registers instruments for streaming. Safe to call while Run is
// active: new instruments are subscribed on the live connection immediately,
// and the full set is re-sent after every reconnect.
func (f *WebSocketFeed) Subscribe(instruments ...domain.Instrument) {
	f.mu.Lock()
	var added []string
	for _, in := range instruments {
		key := in.Key()
		if _, known := f.subscriptions[key]; known {
			continue
		}
		f.subscriptions[key] = in
		added = append(added, key)
	}
	conn := f.conn
	f.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return
	}
	if err := f.writeSubscribe(conn, added); err != nil {
		// The read loop notices the broken connection; the reconnect path
		// resends the full set, this instrument included.
		f.logger.Warn("incremental subscribe failed", slog.String("error", err.Error()))
	}
}

// Run connects and streams ticks until ctx is cancelled, reconnecting with
// exponential backoff on any connection failure.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	defer close(f.ticks)

	delay := reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and pumps messages until the connection
// drops or the context is cancelled. The returned error is always non-nil.
func (f *WebSocketFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	header := make(map[string][]string)
	if f.cfg.AccessToken != "" {
		header["access-token"] = []string{f.cfg.AccessToken}
	}
	if f.cfg.ClientID != "" {
		header["client-id"] = []string{f.cfg.ClientID}
	}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Expose the connection before the initial subscribe so a concurrent
	// Subscribe either lands in the snapshot below or writes incrementally;
	// either way no instrument waits for a reconnect.
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	if err := f.sendSubscriptions(conn); err != nil {
		return err
	}

	// Close the connection on cancellation so ReadMessage unblocks.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go f.pingLoop(connCtx, conn)

	f.logger.InfoContext(ctx, "market feed connected", slog.Int("instruments", f.subscriptionCount()))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *WebSocketFeed) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscriptions)
}

// sendSubscriptions tells the server to stream every registered instrument.
func (f *WebSocketFeed) sendSubscriptions(conn *websocket.Conn) error {
	f.mu.Lock()
	keys := make([]string, 0, len(f.subscriptions))
	for k := range f.subscriptions {
		keys = append(keys, k)
	}
	f.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	return f.writeSubscribe(conn, keys)
}

// writeSubscribe sends one subscribe command for the given instrument keys.
func (f *WebSocketFeed) writeSubscribe(conn *websocket.Conn, keys []string) error {
	cmd := subscribeCommand{Action: "subscribe", Instruments: keys}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (f *WebSocketFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a tick and forwards it. Unparseable messages and
// ticks for instruments we never subscribed to are dropped silently.
func (f *WebSocketFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Symbol == "" || msg.LTP <= 0 {
		return
	}

	instrument := domain.Instrument{
		Symbol:      msg.Symbol,
		OptionType:  domain.OptionType(msg.OptionType),
		StrikePrice: msg.Strike,
		ExpiryDate:  msg.ExpiryDate,
	}

	f.mu.Lock()
	known, ok := f.subscriptions[instrument.Key()]
	f.mu.Unlock()
	if !ok {
		return
	}

	observedAt := time.Now().UTC()
	if msg.Timestamp > 0 {
		observedAt = time.UnixMilli(msg.Timestamp).UTC()
	}

	tick := domain.PriceTick{
		Instrument: known,
		Price:      msg.LTP,
		ObservedAt: observedAt,
	}

	select {
	case f.ticks <- tick:
	default:
		f.logger.WarnContext(ctx, "tick channel full, dropping tick",
			slog.String("instrument", known.Key()),
		)
	}
}

// Compile-time interface checks.
var (
	_ domain.PriceFeed            = (*WebSocketFeed)(nil)
	_ domain.InstrumentSubscriber = (*WebSocketFeed)(nil)
)
