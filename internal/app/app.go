// Package app wires configuration into a running controller: infrastructure,
// the control core, the event bus and its subscribers, the mark price feed
// and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/config"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/events"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/feed"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/metrics"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/binance"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/handler"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/ws"
)

// SignalIngestChannel is the bus channel external producers publish signals on.
const SignalIngestChannel = "signals:ingest"

// shutdownTimeout bounds closing positions and draining HTTP on exit.
const shutdownTimeout = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run starts the controller and blocks until ctx is cancelled or a component
// fails. On the way out the controller is stopped (closing positions when
// configured), the event bus is drained and infrastructure is released.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	cfg := a.cfg
	logger := a.logger
	logger.InfoContext(ctx, "starting controller",
		slog.String("mode", cfg.Mode),
		slog.String("account", cfg.Exchange.Account),
		slog.Any("symbols", cfg.Trading.Symbols),
	)

	infra, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	lockKey := "controller:" + cfg.Exchange.Account
	if infra.LockManager != nil {
		unlock, err := infra.LockManager.Acquire(ctx, lockKey, cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: acquire %s: %w", lockKey, err)
		}
		a.closers = append(a.closers, unlock)
	}

	// The bus outlives the errgroup so that SYSTEM_STOP closes emitted during
	// shutdown still reach the persister and notifier.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()
	bus := events.New(0, logger)

	v, err := buildVenue(cfg, infra, logger)
	if err != nil {
		return err
	}
	c, err := buildCore(cfg, v, infra.Queue, infra.Stores.Positions, bus, logger)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	if infra.LockManager != nil {
		c.ctrl.AddHousekeeping("lock_refresh", lockRefresher(infra.LockManager, lockKey,
			cfg.Redis.LockTTL.Duration, func(err error) {
				c.ctrl.Pause()
				cancelRun(err)
			}, logger))
	}
	if infra.Archiver != nil {
		c.ctrl.AddHousekeeping("archive", infra.Archiver.RunDaily)
	}

	m := metrics.New(metrics.Sources{
		Capital:       c.capital.Snapshot,
		OpenPositions: c.ledger.Count,
		EventsDropped: func() float64 {
			var n int64
			for _, k := range domain.AllEventKinds {
				n += bus.Dropped(k)
			}
			return float64(n)
		},
	})
	hub := ws.NewHub(ws.Config{Status: func() any { return c.ctrl.Status() }}, logger)

	if s := infra.Stores; s.Positions != nil || s.History != nil || s.Risk != nil || s.Audit != nil {
		bus.Subscribe("persist", events.NewPersister(s, logger).Handle, events.PersistKinds...)
	}
	if n := infra.Notifier; n != nil && n.Enabled() && len(n.Kinds()) > 0 {
		bus.Subscribe("notify", n.HandleEvent, n.Kinds()...)
	}
	if infra.SignalBus != nil {
		bus.Subscribe("bridge", events.BusBridge(infra.SignalBus, logger))
	}
	bus.Subscribe("metrics", m.HandleEvent)
	bus.Subscribe("ws", hub.Publish)

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(busCtx)
	}()

	feeder := feed.NewPriceFeeder(v.prices, infra.SignalBus, logger, c.oracle)
	marks := feed.NewMarkStream(func() feed.Stream {
		return binance.NewWSClient(cfg.Exchange.WsURL, cfg.Trading.Symbols)
	}, feeder, logger)

	g, gctx := errgroup.WithContext(runCtx)
	abort := func(cause error) error {
		logger.Error("startup failed", slog.String("error", cause.Error()))
		cancelRun(cause)
		_ = g.Wait()
		stopBus()
		<-busDone
		return cause
	}
	g.Go(func() error { return ignoreCanceled(hub.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(marks.Run(gctx)) })

	if infra.SignalBus != nil {
		ch, err := infra.SignalBus.Subscribe(gctx, SignalIngestChannel)
		if err != nil {
			return abort(fmt.Errorf("app: subscribe %s: %w", SignalIngestChannel, err))
		}
		g.Go(func() error { return ignoreCanceled(c.consumer.Run(gctx, ch)) })
	}

	if cfg.Server.Enabled {
		checks := infra.Checks
		checks["exchange"] = func(ctx context.Context) error {
			res, err := v.gateway.Ping(ctx)
			if err != nil {
				return err
			}
			if !res.OK {
				return errors.New("exchange ping failed")
			}
			return nil
		}
		opts := server.Options{Hub: hub, Limiter: infra.RateLimiter}
		if cfg.Server.MetricsEnabled {
			opts.Metrics = m.Handler()
		}
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateWindow:  cfg.Server.RateWindow.Duration,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(checks),
			Status:    handler.NewStatusHandler(c.ctrl, cfg.Mode),
			Account:   handler.NewAccountHandler(c.capital, c.exposure, c.risk, logger),
			Positions: handler.NewPositionHandler(c.ledger, c.coord, v.gateway, infra.Stores.History, logger),
			Signals:   handler.NewSignalHandler(c.consumer, c.queue, logger),
		}, opts, logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := c.ctrl.Start(gctx); err != nil {
		return abort(fmt.Errorf("app: start controller: %w", err))
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return c.ctrl.Stop(sctx, cfg.Trading.CloseOnShutdown)
	})

	err = g.Wait()
	stopBus()
	<-busDone
	if cause := context.Cause(runCtx); err == nil && errors.Is(cause, domain.ErrLockHeld) {
		err = fmt.Errorf("app: controller lock lost: %w", cause)
	}

	snap := c.capital.Snapshot()
	logger.Info("controller exited",
		slog.String("total_capital", snap.Total.String()),
		slog.Int("open_positions", c.ledger.Count()),
	)
	return err
}

// lockRefresher extends the controller lock on each housekeeping pass. When
// another instance has taken the lock, onLost is called before the error is
// returned.
func lockRefresher(lm domain.LockManager, key string, ttl time.Duration, onLost func(error), logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		err := lm.Refresh(ctx, key, ttl)
		if errors.Is(err, domain.ErrLockHeld) {
			logger.ErrorContext(ctx, "controller lock lost, pausing admissions",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			onLost(err)
		}
		return err
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
