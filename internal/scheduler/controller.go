package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/executor"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/service"
)

// Task names.
const (
	TaskEvaluate     = "evaluate"
	TaskMonitor      = "monitor"
	TaskSignals      = "signals"
	TaskHousekeeping = "housekeeping"
)

// Config holds the loop intervals and the exit policy.
type Config struct {
	EvaluateInterval     time.Duration
	MonitorInterval      time.Duration
	SignalInterval       time.Duration
	HousekeepingInterval time.Duration
	ExitPolicy           service.ExitPolicy
}

// Deps are the controller's collaborators. Positions is optional; every
// other field is required.
type Deps struct {
	Oracle      domain.Oracle
	Gateway     domain.ExecutionGateway
	Coordinator *executor.Coordinator
	Consumer    *executor.SignalConsumer
	Ledger      *service.PositionLedger
	Risk        *service.RiskGovernor
	Sizer       *service.PositionSizer
	// Positions receives trailing-stop updates when set.
	Positions domain.PositionStore
}

// Status is the controller view served by the status endpoint.
type Status struct {
	Running       bool         `json:"running"`
	Paused        bool         `json:"paused"`
	EmergencyStop bool         `json:"emergency_stop"`
	OpenPositions int          `json:"open_positions"`
	RiskFraction  float64      `json:"risk_fraction"`
	StartedAt     time.Time    `json:"started_at,omitempty"`
	Tasks         []TaskStatus `json:"tasks"`
}

type hook struct {
	name string
	fn   TaskFunc
}

// Controller drives the evaluate, monitor, signals and housekeeping loops.
type Controller struct {
	deps   Deps
	cfg    Config
	sched  *Scheduler
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	hooks     []hook
	running   bool
	stopped   bool
	startedAt time.Time
}

// New validates deps and creates a Controller.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Controller, error) {
	var missing []string
	if deps.Oracle == nil {
		missing = append(missing, "oracle")
	}
	if deps.Gateway == nil {
		missing = append(missing, "gateway")
	}
	if deps.Coordinator == nil {
		missing = append(missing, "coordinator")
	}
	if deps.Consumer == nil {
		missing = append(missing, "signal consumer")
	}
	if deps.Ledger == nil {
		missing = append(missing, "position ledger")
	}
	if deps.Risk == nil {
		missing = append(missing, "risk governor")
	}
	if deps.Sizer == nil {
		missing = append(missing, "position sizer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("scheduler: missing collaborators: %v", missing)
	}

	if cfg.EvaluateInterval <= 0 {
		cfg.EvaluateInterval = 5 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = max(time.Second, cfg.EvaluateInterval/2)
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = time.Minute
	}

	return &Controller{
		deps:   deps,
		cfg:    cfg,
		sched:  NewScheduler(logger),
		now:    time.Now,
		logger: logger.With(slog.String("component", "controller")),
	}, nil
}

// WithClock replaces the clock used for exit evaluation.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// AddHousekeeping registers fn to run on every housekeeping tick. Register
// hooks before Start.
func (c *Controller) AddHousekeeping(name string, fn TaskFunc) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
	c.mu.Unlock()
}

// Start launches the four loops. It returns ErrControllerStopped after Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.ErrControllerStopped
	}
	if c.running {
		return nil
	}

	for _, t := range []struct {
		name     string
		interval time.Duration
		fn       TaskFunc
	}{
		{TaskEvaluate, c.cfg.EvaluateInterval, c.Evaluate},
		{TaskMonitor, c.cfg.MonitorInterval, c.Monitor},
		{TaskSignals, c.cfg.SignalInterval, c.Signals},
		{TaskHousekeeping, c.cfg.HousekeepingInterval, c.Housekeeping},
	} {
		if err := c.sched.Add(t.name, t.interval, t.fn); err != nil {
			return err
		}
	}
	c.sched.Start(ctx)
	c.running = true
	c.startedAt = time.Now().UTC()
	c.logger.InfoContext(ctx, "controller started",
		slog.Duration("evaluate_interval", c.cfg.EvaluateInterval),
		slog.Duration("monitor_interval", c.cfg.MonitorInterval),
		slog.Duration("signal_interval", c.cfg.SignalInterval),
	)
	return nil
}

// Pause halts admission in every loop. Monitoring and exits continue.
func (c *Controller) Pause() { c.deps.Coordinator.Pause() }

// Resume lifts a Pause.
func (c *Controller) Resume() { c.deps.Coordinator.Resume() }

// Stop shuts the controller down: admission stops, task bodies finish, open
// positions are closed with SYSTEM_STOP when closeAll is set, and in-flight
// attempts settle. Stop is idempotent.
func (c *Controller) Stop(ctx context.Context, closeAll bool) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.deps.Coordinator.StopAdmission()

	var errs []error
	if err := c.sched.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.deps.Coordinator.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: waiting for in-flight attempts: %w", err))
	}
	if closeAll {
		open := len(c.deps.Ledger.Active())
		n := c.deps.Coordinator.CloseAll(ctx, domain.CloseSystemStop)
		c.logger.InfoContext(ctx, "positions closed on shutdown", slog.Int("closed", n), slog.Int("open", open))
	}
	if err := c.deps.Coordinator.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: waiting for in-flight attempts: %w", err))
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "controller stopped")
	return errors.Join(errs...)
}

// Status reports the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running, started := c.running, c.startedAt
	c.mu.Unlock()
	return Status{
		Running:       running,
		Paused:        c.deps.Coordinator.Paused(),
		EmergencyStop: c.deps.Risk.EmergencyStop(),
		OpenPositions: c.deps.Ledger.Count(),
		RiskFraction:  c.deps.Sizer.RiskFraction(),
		StartedAt:     started,
		Tasks:         c.sched.Status(),
	}
}

// Evaluate scans the oracle and attempts every opportunity it returns.
func (c *Controller) Evaluate(ctx context.Context) error {
	c.deps.Risk.Observe(ctx)
	c.deps.Sizer.Recalibrate(c.deps.Ledger.Stats())

	if c.deps.Coordinator.Paused() || c.deps.Risk.BlocksAdmission() {
		return nil
	}

	opps, err := c.deps.Oracle.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: evaluate: scan: %w", err)
	}

	opened := 0
	for _, opp := range opps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := c.deps.Coordinator.Attempt(ctx, opp)
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrControllerStopped):
			return nil
		}
	}
	if opened > 0 {
		c.logger.InfoContext(ctx, "evaluation opened positions", slog.Int("opened", opened), slog.Int("scanned", len(opps)))
	}
	return nil
}

// Monitor re-prices every open position and closes those whose exit
// condition is met.
func (c *Controller) Monitor(ctx context.Context) error {
	c.deps.Risk.Observe(ctx)

	for _, pos := range c.deps.Ledger.Active() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pos.Status != domain.PositionStatusActive {
			continue
		}
		log := c.logger.With(slog.String("symbol", pos.Symbol), slog.String("position_id", pos.ID))

		price, err := c.deps.Gateway.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			log.WarnContext(ctx, "mark price unavailable", slog.String("error", err.Error()))
			price = 0
		}
		in := service.ExitInput{Price: price, Now: c.now()}
		if score, err := c.deps.Oracle.Score(ctx, pos.Symbol); err == nil {
			in.CurrentConsciousness = score.Consciousness
			in.ScoreKnown = true
		}

		updated, reason, exit := c.deps.Ledger.Evaluate(pos.ID, c.cfg.ExitPolicy, in)
		if !exit {
			if updated.ID != "" && updated.Trailing != pos.Trailing {
				c.saveTrailing(ctx, updated)
			}
			continue
		}

		log.InfoContext(ctx, "exit condition met", slog.String("reason", string(reason)), slog.Float64("price", price))
		if _, _, err := c.deps.Coordinator.ClosePosition(ctx, pos.Symbol, reason); err != nil {
			log.WarnContext(ctx, "exit failed, will retry", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Controller) saveTrailing(ctx context.Context, pos domain.Position) {
	if c.deps.Positions == nil {
		return
	}
	if err := c.deps.Positions.UpdateTrailing(ctx, pos.ID, pos.Trailing); err != nil {
		c.logger.WarnContext(ctx, "trailing state not persisted",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Signals drains one batch of externally published signals.
func (c *Controller) Signals(ctx context.Context) error {
	if c.deps.Coordinator.Paused() {
		return nil
	}
	_, err := c.deps.Consumer.Drain(ctx)
	return err
}

// Housekeeping rolls the risk day, prunes signal dedup state and runs the
// registered hooks. A failing hook does not stop the others.
func (c *Controller) Housekeeping(ctx context.Context) error {
	c.deps.Risk.Observe(ctx)
	c.deps.Consumer.Cleanup()

	c.mu.Lock()
	hooks := append([]hook(nil), c.hooks...)
	c.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
