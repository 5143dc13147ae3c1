package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

const (
	inProcessAttempts = 3
	workerQueueDepth  = 64
)

// consumer runs one subscription: a single group fetcher feeding
// partition-sharded workers. Records of the same partition always land on
// the same worker, which processes them serially, so per-partition order
// is preserved at any concurrency.
type consumer struct {
	rt      *Runtime
	sub     Subscription
	fetcher messaging.Fetcher
	breaker *gobreaker.CircuitBreaker
}

func newConsumer(rt *Runtime, sub Subscription) *consumer {
	c := &consumer{rt: rt, sub: sub}
	c.breaker = newFamilyBreaker(sub.Family, rt.o11y, c.onBreakerOpen)
	return c
}

func (c *consumer) onBreakerOpen(family telemetry.Family) {
	if c.rt.alerts == nil {
		return
	}
	c.rt.alerts.Raise(context.Background(), "CIRCUIT_BREAKER_OPEN", string(family),
		alerting.SeverityHigh,
		fmt.Sprintf("family %s breaker opened, records routed to %s", family, FallbackTopic(c.sub.Topic)),
		telemetry.SchedulerCorrelationID(), nil)
}

func (c *consumer) run(ctx context.Context) {
	queues := make([]chan messaging.Message, c.sub.Concurrency)
	for i := range queues {
		queues[i] = make(chan messaging.Message, workerQueueDepth)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range queues {
		queue := queues[i]
		g.Go(func() error {
			for msg := range queue {
				c.process(gctx, msg)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, queue := range queues {
				close(queue)
			}
		}()
		for {
			msg, err := c.fetcher.Fetch(gctx)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil
				}
				c.rt.o11y.Logger().Error(gctx, "fetch failed",
					observability.String("topic", c.sub.Topic),
					observability.Error(err))
				select {
				case <-gctx.Done():
					return nil
				case <-c.rt.clock.After(time.Second):
				}
				continue
			}

			select {
			case queues[msg.Partition%c.sub.Concurrency] <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	_ = g.Wait()
}

// process runs the full per-record lifecycle. Every terminal outcome ends
// with an offset commit; only a publish failure during failure routing
// leaves the offset uncommitted so the record is fetched again.
func (c *consumer) process(ctx context.Context, msg messaging.Message) {
	if at, ok := notBefore(msg); ok {
		if wait := at.Sub(c.rt.clock.Now()); wait > 0 {
			select {
			case <-c.rt.clock.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}

	evt, err := telemetry.Parse(c.sub.Family, msg.Partition, msg.Offset, msg.Value)
	if err != nil {
		reason := ReasonValidationFailure
		if errors.Is(err, telemetry.ErrMalformed) {
			reason = ReasonInvalidFormat
		}
		c.rt.o11y.Metrics().IncCounter("errors_total", "family", string(c.sub.Family), "reason", reason)
		if c.deadLetter(ctx, msg, reason, err) {
			c.commit(ctx, msg)
		}
		return
	}

	key := evt.Key()
	if c.rt.cache.Seen(key) {
		c.rt.o11y.Metrics().IncCounter("events_processed_total",
			"family", string(c.sub.Family), "result", "duplicate")
		c.commit(ctx, msg)
		return
	}

	start := c.rt.clock.Now()
	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.invoke(ctx, evt)
	})
	c.rt.o11y.Metrics().ObserveSummary("handler_duration_seconds",
		c.rt.clock.Since(start).Seconds(), "family", string(c.sub.Family))

	switch {
	case err == nil:
		c.rt.cache.Record(key)
		c.rt.o11y.Metrics().IncCounter("events_processed_total",
			"family", string(c.sub.Family), "result", "success")
		c.commit(ctx, msg)

	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		if c.fallback(ctx, msg) {
			c.commit(ctx, msg)
		}

	case IsPermanent(err):
		reason := ReasonPermanentFailure
		if errors.Is(err, telemetry.ErrValidation) {
			reason = ReasonValidationFailure
		}
		c.rt.o11y.Metrics().IncCounter("errors_total",
			"family", string(c.sub.Family), "reason", reason)
		if c.deadLetter(ctx, msg, reason, err) {
			c.commit(ctx, msg)
		}

	default:
		if c.escalate(ctx, msg, err) {
			c.commit(ctx, msg)
		}
	}
}

// invoke runs the handler inside the transactional scope, with in-process
// retries covering transient store and collaborator failures.
func (c *consumer) invoke(ctx context.Context, evt *telemetry.Event) error {
	attempt := func() error {
		err := c.attempt(ctx, evt)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newInProcessBackoff(), inProcessAttempts-1), ctx)
	notify := func(err error, wait time.Duration) {
		c.rt.o11y.Metrics().IncCounter("in_process_retries_total", "family", string(c.sub.Family))
		c.rt.o11y.Logger().Warn(ctx, "handler attempt failed, retrying in process",
			observability.String("family", string(c.sub.Family)),
			observability.String("event_type", evt.Type),
			observability.Duration("wait", wait),
			observability.Error(err))
	}
	return backoff.RetryNotify(attempt, policy, notify)
}

func (c *consumer) newInProcessBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	return b
}

// attempt is one transactional handler execution under the 10s budget. The
// idempotency key is claimed inside the same transaction as the handler's
// writes; emissions staged on the outbox become visible only after commit.
func (c *consumer) attempt(ctx context.Context, evt *telemetry.Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, HandlerTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", p))
			c.rt.o11y.Logger().Error(ctx, "handler panicked",
				observability.String("family", string(c.sub.Family)),
				observability.String("event_type", evt.Type),
				observability.Any("panic", p))
		}
	}()

	outbox := c.rt.emitter.NewOutbox()
	err = c.rt.uow.Do(ctx, func(ctx context.Context, db storage.DBTX) error {
		inserted, err := c.rt.store.InsertEventKey(ctx, db, evt.Key(), c.rt.clock.Now())
		if err != nil {
			return fmt.Errorf("claim event key: %w", err)
		}
		if !inserted {
			return nil
		}
		return c.sub.Handler.Handle(ctx, &Scope{DB: db, Outbox: outbox}, evt)
	})
	if err != nil {
		outbox.Discard()
		return err
	}

	// The transaction is committed; a flush failure cannot be recovered by
	// reprocessing because the key is claimed. Log and move on.
	if ferr := outbox.Flush(ctx); ferr != nil {
		c.rt.o11y.Metrics().IncCounter("outbox_flush_failures_total", "family", string(c.sub.Family))
		c.rt.o11y.Logger().Error(ctx, "post-commit emission flush failed",
			observability.String("family", string(c.sub.Family)),
			observability.Int("dropped", outbox.Len()),
			observability.Error(ferr))
	}
	return nil
}

// escalate republishes the record one retry level up, or dead-letters it
// after the last level. Returns false when the publish itself failed.
func (c *consumer) escalate(ctx context.Context, msg messaging.Message, cause error) bool {
	level := retryLevel(msg.Topic)
	if level >= MaxRetryLevels {
		c.rt.o11y.Metrics().IncCounter("errors_total",
			"family", string(c.sub.Family), "reason", ReasonPermanentFailure)
		return c.deadLetter(ctx, msg, ReasonPermanentFailure, cause)
	}

	next := level + 1
	topic := RetryTopic(c.sub.Topic, next)
	readyAt := c.rt.clock.Now().Add(retryDelay(next))
	headers := retryHeaders(msg, next, readyAt, cause)

	if err := c.rt.publisher.Publish(ctx, topic, string(msg.Key), headers, msg.Value); err != nil {
		c.rt.o11y.Logger().Error(ctx, "retry republish failed",
			observability.String("topic", topic),
			observability.Error(err))
		return false
	}
	c.rt.o11y.Metrics().IncCounter("events_retried_total",
		"family", string(c.sub.Family), "level", fmt.Sprint(next))
	return true
}

// fallback writes the record to the fallback topic while the breaker is
// open and acknowledges it.
func (c *consumer) fallback(ctx context.Context, msg messaging.Message) bool {
	topic := FallbackTopic(c.sub.Topic)
	if err := c.rt.publisher.Publish(ctx, topic, string(msg.Key), msg.Headers, msg.Value); err != nil {
		c.rt.o11y.Logger().Error(ctx, "fallback publish failed",
			observability.String("topic", topic),
			observability.Error(err))
		return false
	}
	c.rt.o11y.Metrics().IncCounter("events_fallback_total", "family", string(c.sub.Family))
	return true
}

// deadLetter publishes the original payload to the DLT; the DLT consumer
// writes the audit row and raises the manual-intervention alert.
func (c *consumer) deadLetter(ctx context.Context, msg messaging.Message, reason string, cause error) bool {
	topic := DLTTopic(c.sub.Topic)
	if err := c.rt.publisher.Publish(ctx, topic, string(msg.Key), dltHeaders(msg, reason, cause), msg.Value); err != nil {
		c.rt.o11y.Logger().Error(ctx, "dead-letter publish failed",
			observability.String("topic", topic),
			observability.Error(err))
		return false
	}
	c.rt.o11y.Metrics().IncCounter("events_dlq_total",
		"family", string(c.sub.Family), "reason", reason)
	return true
}

func (c *consumer) commit(ctx context.Context, msg messaging.Message) {
	if err := c.fetcher.Commit(ctx, msg); err != nil {
		c.rt.o11y.Logger().Error(ctx, "offset commit failed",
			observability.String("topic", msg.Topic),
			observability.Int("partition", msg.Partition),
			observability.Error(err))
	}
}
