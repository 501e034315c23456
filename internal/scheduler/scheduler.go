// Package scheduler runs the controller's periodic loops as named tasks,
// each with its own ticker and cancel func.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// TaskFunc is one execution of a task body.
type TaskFunc func(ctx context.Context) error

// TaskStatus is a snapshot of a task for status endpoints.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	runs     int64
	failures int64
	lastRun  time.Time
	lastErr  string
}

// Scheduler owns a set of named periodic tasks. A task body always finishes
// before its next run starts; ticks that arrive while a body is running are
// dropped.
type Scheduler struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With(slog.String("component", "scheduler")),
		tasks:  make(map[string]*task),
	}
}

// Add registers a task. Names are unique.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("scheduler: task %s: %w", name, domain.ErrAlreadyExists)
	}
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	return nil
}

// Start launches every registered task that is not already running. Each
// task runs once immediately and then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.done != nil {
			continue
		}
		tctx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		t.done = make(chan struct{})
		go s.loop(tctx, t)
		s.logger.Info("task started", slog.String("task", t.name), slog.Duration("interval", t.interval))
	}
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	s.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task stopped", slog.String("task", t.name))
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
			// Drop a tick that fired while the body was running.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	err := t.fn(ctx)

	t.mu.Lock()
	t.runs++
	t.lastRun = time.Now().UTC()
	if err != nil && ctx.Err() == nil {
		t.failures++
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "task failed", slog.String("task", t.name), slog.String("error", err.Error()))
	}
}

// StopTask cancels one task and waits for its body to return.
func (s *Scheduler) StopTask(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: task %s: %w", name, domain.ErrNotFound)
	}
	return s.stop(ctx, t)
}

// StopAll cancels every task and waits for their bodies to return.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.mu.Unlock()

	for _, t := range all {
		if err := s.stop(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) stop(ctx context.Context, t *task) error {
	s.mu.Lock()
	cancel, done := t.cancel, t.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for %s: %w", t.name, ctx.Err())
	}
}

// Status returns a snapshot of every task sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		running := false
		if t.done != nil {
			select {
			case <-t.done:
			default:
				running = true
			}
		}
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:      t.name,
			Interval:  t.interval,
			Running:   running,
			Runs:      t.runs,
			Failures:  t.failures,
			LastRun:   t.lastRun,
			LastError: t.lastErr,
		})
		t.mu.Unlock()
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
