package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anirudhsk/optrader/internal/advisory"
	"github.com/anirudhsk/optrader/internal/engine"
	"github.com/anirudhsk/optrader/internal/events"
	"github.com/anirudhsk/optrader/internal/feed"
	"github.com/anirudhsk/optrader/internal/orders"
	"github.com/anirudhsk/optrader/internal/server"
	"github.com/anirudhsk/optrader/internal/server/handler"
	"github.com/anirudhsk/optrader/internal/server/ws"
)

// runtime bundles the core services shared by every operating mode.
type runtime struct {
	notifier *events.Notifier
	engine   *engine.Engine
	manager  *orders.Manager
	hub      *ws.Hub
}

// buildRuntime constructs the event notifier, monitoring engine, and order
// manager, and registers the standard event handlers.
func (a *App) buildRuntime(deps *Dependencies) *runtime {
	notifier := events.NewNotifier(256, a.logger)

	if deps.EventBus != nil {
		notifier.Register(events.NewBusBridge(deps.EventBus, a.logger))
	}
	notifier.Register(events.NewAuditBridge(deps.AuditStore, a.logger))
	notifier.Register(events.NewNotifyBridge(deps.Notifier))

	// The hub only drains its broadcast buffer while the server runs, so it
	// joins the notifier only when the API is enabled.
	hub := ws.NewHub(ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC()}, a.logger)
	if a.cfg.Server.Enabled {
		notifier.Register(hub)
	}

	eng := engine.New(
		deps.PositionStore,
		deps.Gateway,
		notifier,
		deps.PriceCache,
		engine.Config{
			Workers:        a.cfg.Engine.Workers,
			EmitValuations: a.cfg.Engine.EmitValuations,
		},
		a.logger,
	)

	mgr := orders.NewManager(deps.OrderStore, deps.PositionStore, deps.Gateway, notifier, a.logger)

	return &runtime{
		notifier: notifier,
		engine:   eng,
		manager:  mgr,
		hub:      hub,
	}
}

// startFeedAndEngine launches the tick source and the monitoring engine.
func (a *App) startFeedAndEngine(ctx context.Context, g *errgroup.Group, rt *runtime, deps *Dependencies, forceSim bool) {
	source := strings.ToLower(a.cfg.Feed.Source)
	if forceSim {
		source = "sim"
	}

	switch source {
	case "websocket":
		wsFeed := feed.NewWebSocketFeed(feed.WebSocketConfig{
			URL:         a.cfg.Feed.WSURL,
			AccessToken: a.cfg.Broker.Dhan.AccessToken,
			ClientID:    a.cfg.Broker.Dhan.ClientID,
		}, a.logger)
		a.subscribeOpenInstruments(ctx, wsFeed, deps)
		// Positions opened through the API must start streaming right away.
		rt.manager.AttachFeed(wsFeed)
		g.Go(func() error { return wsFeed.Run(ctx) })
		g.Go(func() error { return rt.engine.Run(ctx, wsFeed.Ticks()) })

	case "poll":
		poller := feed.NewPoller(feed.PollerConfig{
			QuoteURL:    a.cfg.Feed.QuoteURL,
			AccessToken: a.cfg.Broker.Dhan.AccessToken,
			Interval:    a.cfg.Feed.PollInterval.Duration,
		}, deps.PositionStore, a.logger)
		g.Go(func() error { return poller.Run(ctx) })
		g.Go(func() error { return rt.engine.Run(ctx, poller.Ticks()) })

	default: // sim
		var marks feed.MarkSetter
		if deps.Simulator != nil {
			marks = deps.Simulator
		}
		sim := feed.NewSimulated(feed.SimulatedConfig{
			Interval: a.cfg.Feed.SimInterval.Duration,
			DriftBps: a.cfg.Feed.SimDriftBps,
			Seed:     a.cfg.Broker.Simulator.Seed,
		}, deps.PositionStore, marks, a.logger)
		g.Go(func() error { return sim.Run(ctx) })
		g.Go(func() error { return rt.engine.Run(ctx, sim.Ticks()) })
	}
}

// subscribeOpenInstruments seeds the streaming feed with every instrument
// that currently has an open position.
func (a *App) subscribeOpenInstruments(ctx context.Context, wsFeed *feed.WebSocketFeed, deps *Dependencies) {
	positions, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "could not list open positions for feed subscription")
		return
	}
	for _, pos := range positions {
		wsFeed.Subscribe(pos.Instrument)
	}
}

// startServer launches the HTTP/WebSocket API when enabled. withOrders
// controls whether the order submission endpoints are exposed.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, rt *runtime, deps *Dependencies, withOrders bool) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, time.Now().UTC(), a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, rt.engine, deps.PriceCache, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if withOrders {
		handlers.Orders = handler.NewOrderHandler(rt.manager, a.logger)
	}
	if a.cfg.Advisory.Enabled {
		client := advisory.NewClient(advisory.Config{
			BaseURL: a.cfg.Advisory.BaseURL,
			APIKey:  a.cfg.Advisory.APIKey,
			Timeout: a.cfg.Advisory.Timeout.Duration,
		})
		handlers.Advisory = handler.NewAdvisoryHandler(client, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, rt.hub, a.logger)

	g.Go(func() error { return rt.hub.Run(ctx) })
	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver launches the periodic closed-position archival loop.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration
	g.Go(func() error { return deps.Archiver.Run(ctx, interval, retention) })
}

// run starts the shared core (crash recovery, event dispatch) plus the
// mode-specific goroutines and blocks until the group exits.
func (a *App) run(ctx context.Context, rt *runtime, start func(ctx context.Context, g *errgroup.Group)) error {
	// Positions stuck in closing from a previous run are re-armed before any
	// tick or API request can observe them.
	if err := rt.engine.Recover(ctx); err != nil {
		return fmt.Errorf("app: startup recovery: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.notifier.Run(ctx) })
	start(ctx, g)
	return g.Wait()
}

// TradeMode runs the full system against the live broker: market feed,
// monitoring engine, order API, and archival.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	rt := a.buildRuntime(deps)

	return a.run(ctx, rt, func(ctx context.Context, g *errgroup.Group) {
		a.startFeedAndEngine(ctx, g, rt, deps, false)
		a.startServer(ctx, g, rt, deps, true)
		a.startArchiver(ctx, g, deps)
	})
}

// PaperMode runs the same loop as trade mode against the simulator, with a
// simulated tick source regardless of the configured feed.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	rt := a.buildRuntime(deps)

	return a.run(ctx, rt, func(ctx context.Context, g *errgroup.Group) {
		a.startFeedAndEngine(ctx, g, rt, deps, true)
		a.startServer(ctx, g, rt, deps, true)
		a.startArchiver(ctx, g, deps)
	})
}

// MonitorMode evaluates and closes existing positions but exposes no order
// submission surface; new exposure cannot be created.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	rt := a.buildRuntime(deps)

	return a.run(ctx, rt, func(ctx context.Context, g *errgroup.Group) {
		a.startFeedAndEngine(ctx, g, rt, deps, false)
		a.startServer(ctx, g, rt, deps, false)
		a.startArchiver(ctx, g, deps)
	})
}

// ServerMode serves the API without consuming any market feed. Automatic
// triggers are inactive; manual closes and order submission still work.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	rt := a.buildRuntime(deps)

	return a.run(ctx, rt, func(ctx context.Context, g *errgroup.Group) {
		a.startServer(ctx, g, rt, deps, true)
	})
}
