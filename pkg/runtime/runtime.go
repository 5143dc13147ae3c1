// Package runtime is the consumer loop of the engine: it fetches records
// from subscribed topics, preserves per-partition ordering, wraps each
// handler call in a transactional scope with retries and a per-family
// circuit breaker, and routes failures through retry topics to the DLT.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/idempotency"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

// HandlerTimeout is the per-record processing budget.
const HandlerTimeout = 10 * time.Second

// Scope is the transactional context a handler runs in. Store writes go
// through DB; follow-on emissions are staged on the Outbox and published
// only after the transaction commits.
type Scope struct {
	DB     storage.DBTX
	Outbox *emitter.Outbox
}

// Handler processes one event of its family. Returning an error triggers
// the retry pipeline; wrap with Permanent to dead-letter immediately.
type Handler interface {
	Family() telemetry.Family
	Handle(ctx context.Context, scope *Scope, evt *telemetry.Event) error
}

// Subscription binds a topic to a family handler.
type Subscription struct {
	Topic       string
	GroupID     string
	Concurrency int
	Family      telemetry.Family
	Handler     Handler
	Enabled     bool
}

// Validate checks the subscription is runnable.
func (s Subscription) Validate() error {
	var errs []error
	if s.Topic == "" {
		errs = append(errs, errors.New("subscription requires a topic"))
	}
	if s.GroupID == "" {
		errs = append(errs, errors.New("subscription requires a group id"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, errors.New("subscription concurrency must be positive"))
	}
	if s.Handler == nil {
		errs = append(errs, errors.New("subscription requires a handler"))
	}
	return errors.Join(errs...)
}

// Runtime owns the consumers for all enabled subscriptions.
type Runtime struct {
	factory   messaging.FetcherFactory
	publisher messaging.Publisher
	uow       storage.UnitOfWork
	store     storage.Store
	emitter   *emitter.Emitter
	alerts    *alerting.Manager
	cache     *idempotency.Cache
	o11y      observability.Observability
	clock     clock.Clock

	consumers []*consumer
	running   atomic.Bool
	shutdown  sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// Config carries the runtime collaborators.
type Config struct {
	FetcherFactory messaging.FetcherFactory
	Publisher      messaging.Publisher
	UnitOfWork     storage.UnitOfWork
	Store          storage.Store
	Emitter        *emitter.Emitter
	Alerts         *alerting.Manager
	Cache          *idempotency.Cache
	Observability  observability.Observability
	Clock          clock.Clock
}

func (c Config) validate() error {
	var errs []error
	if c.FetcherFactory == nil {
		errs = append(errs, errors.New("runtime requires a fetcher factory"))
	}
	if c.Publisher == nil {
		errs = append(errs, errors.New("runtime requires a publisher"))
	}
	if c.UnitOfWork == nil {
		errs = append(errs, errors.New("runtime requires a unit of work"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("runtime requires a store"))
	}
	if c.Emitter == nil {
		errs = append(errs, errors.New("runtime requires an emitter"))
	}
	if c.Cache == nil {
		errs = append(errs, errors.New("runtime requires an idempotency cache"))
	}
	if c.Clock == nil {
		errs = append(errs, errors.New("runtime requires a clock"))
	}
	return errors.Join(errs...)
}

// New creates the runtime and registers the given subscriptions. Disabled
// subscriptions are skipped.
func New(cfg Config, subs ...Subscription) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Observability == nil {
		cfg.Observability = observability.New()
	}

	r := &Runtime{
		factory:   cfg.FetcherFactory,
		publisher: cfg.Publisher,
		uow:       cfg.UnitOfWork,
		store:     cfg.Store,
		emitter:   cfg.Emitter,
		alerts:    cfg.Alerts,
		cache:     cfg.Cache,
		o11y:      cfg.Observability,
		clock:     cfg.Clock,
	}

	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.Topic, err)
		}
		r.consumers = append(r.consumers, newConsumer(r, sub))
	}
	if len(r.consumers) == 0 {
		return nil, errors.New("runtime requires at least one enabled subscription")
	}
	return r, nil
}

// Start opens one group fetcher per subscription and launches its workers.
// It returns once all consumers are running.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("runtime already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, c := range r.consumers {
		fetcher, err := r.factory(c.sub.GroupID, subscriptionTopics(c.sub.Topic)...)
		if err != nil {
			cancel()
			r.running.Store(false)
			return fmt.Errorf("open fetcher for %s: %w", c.sub.Topic, err)
		}
		c.fetcher = fetcher

		r.wg.Add(1)
		go func(c *consumer) {
			defer r.wg.Done()
			c.run(runCtx)
		}(c)
	}

	r.o11y.Logger().Info(ctx, "consumer runtime started",
		observability.Int("subscriptions", len(r.consumers)))
	return nil
}

// Shutdown drains the consumers: fetch loops stop, in-flight records finish,
// offsets commit. Safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var err error
	r.shutdown.Do(func() {
		if !r.running.CompareAndSwap(true, false) {
			return
		}
		r.o11y.Logger().Info(ctx, "consumer runtime shutting down")
		r.cancel()

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("runtime shutdown: %w", ctx.Err())
		}

		for _, c := range r.consumers {
			if c.fetcher != nil {
				if cerr := c.fetcher.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("close fetcher for %s: %w", c.sub.Topic, cerr)
				}
			}
		}
	})
	return err
}

// HealthStatus reports the runtime's liveness per subscription.
type HealthStatus struct {
	Status        string         `json:"status"`
	Subscriptions map[string]int `json:"subscriptions"`
}

// Health reports whether the runtime is consuming and the worker count per
// topic.
func (r *Runtime) Health(_ context.Context) HealthStatus {
	status := "healthy"
	if !r.running.Load() {
		status = "stopped"
	}
	subs := make(map[string]int, len(r.consumers))
	for _, c := range r.consumers {
		subs[c.sub.Topic] = c.sub.Concurrency
	}
	return HealthStatus{Status: status, Subscriptions: subs}
}
