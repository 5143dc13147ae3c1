// Package scheduler runs the engine's periodic analyses as jittered
// fixed-delay tasks with a graceful shutdown drain.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

// Task is a unit of periodic work. The context is cancelled on shutdown.
type Task func(ctx context.Context) error

type job struct {
	name   string
	period time.Duration
	jitter float64
	task   Task
}

// Scheduler registers named periodic tasks and runs each on its own
// goroutine with a randomized delay around the configured period.
type Scheduler struct {
	config *Config
	o11y   observability.Observability
	clock  clock.Clock

	jobsMu sync.Mutex
	jobs   []*job

	running     atomic.Bool
	activeTasks atomic.Int32
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	shutdownRun sync.Once
	shutdownErr error
}

// New creates a scheduler. Jobs must be registered before Start.
func New(o11y observability.Observability, clk clock.Clock, opts ...Option) (*Scheduler, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler configuration: %w", err)
	}
	return &Scheduler{
		config: config,
		o11y:   o11y,
		clock:  clk,
	}, nil
}

// Every registers a task to run with a fixed delay of period between
// completions, randomized by ±jitter (a fraction, e.g. 0.1 for 10%).
func (s *Scheduler) Every(name string, period time.Duration, jitter float64, task Task) error {
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if period <= 0 {
		return fmt.Errorf("task %q: period must be greater than 0", name)
	}
	if jitter < 0 || jitter >= 1 {
		return fmt.Errorf("task %q: jitter must be in [0, 1)", name)
	}
	if task == nil {
		return fmt.Errorf("task %q: task cannot be nil", name)
	}
	if s.running.Load() {
		return fmt.Errorf("cannot register tasks while scheduler is running")
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("task %q already registered", name)
		}
	}
	s.jobs = append(s.jobs, &job{name: name, period: period, jitter: jitter, task: task})
	return nil
}

// Start launches all registered jobs. It returns immediately; jobs run until
// Shutdown is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.jobsMu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.jobsMu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.run(runCtx, j)
	}

	s.o11y.Logger().Info(ctx, "scheduler started",
		observability.Int("tasks", len(jobs)))
	return nil
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.delay(j)):
		}

		s.execute(ctx, j)

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	s.activeTasks.Add(1)
	defer s.activeTasks.Add(-1)

	stop := s.o11y.Metrics().Timer("scheduler_task_duration_seconds", "task", j.name)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			s.o11y.Metrics().IncCounter("scheduler_task_panics_total", "task", j.name)
			s.o11y.Logger().Error(ctx, "panic in scheduled task",
				observability.String("task", j.name),
				observability.Any("panic", r))
		}
	}()

	taskCtx := ctx
	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}

	if err := j.task(taskCtx); err != nil {
		s.o11y.Metrics().IncCounter("scheduler_task_failures_total", "task", j.name)
		s.o11y.Logger().Error(ctx, "scheduled task failed",
			observability.String("task", j.name),
			observability.Error(err))
		return
	}
	s.o11y.Metrics().IncCounter("scheduler_task_runs_total", "task", j.name)
}

// delay returns the next sleep interval: period randomized by ±jitter so
// tasks registered together do not fire in synchronized bursts.
func (s *Scheduler) delay(j *job) time.Duration {
	if j.jitter == 0 {
		return j.period
	}
	spread := (rand.Float64()*2 - 1) * j.jitter
	return time.Duration(float64(j.period) * (1 + spread))
}

// Shutdown stops all jobs and waits for in-flight tasks to finish, bounded
// by the context deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shutdownRun.Do(func() {
		if !s.running.Swap(false) {
			return
		}
		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.o11y.Logger().Info(ctx, "scheduler drained")
		case <-ctx.Done():
			s.shutdownErr = fmt.Errorf("scheduler shutdown: %w", ctx.Err())
		}
	})
	return s.shutdownErr
}

// Health reports the scheduler's current state.
func (s *Scheduler) Health(ctx context.Context) HealthStatus {
	s.jobsMu.Lock()
	registered := len(s.jobs)
	s.jobsMu.Unlock()

	status := StatusHealthy
	if !s.running.Load() {
		status = StatusStopped
	}
	return HealthStatus{
		Status:          status,
		RegisteredTasks: registered,
		ActiveTasks:     int(s.activeTasks.Load()),
	}
}
