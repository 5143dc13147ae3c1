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
	"github.com/sentinelops/telemetry-engine/pkg/messaging"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
)

// DLTConsumer drains the dead-letter topics: each record becomes an audit
// row plus a CRITICAL DLT_EVENT alert requiring manual intervention. DLT
// records are never fed back into the engine.
type DLTConsumer struct {
	fetcher messaging.Fetcher
	store   storage.Store
	alerts  *alerting.Manager
	o11y    observability.Observability
	clock   clock.Clock

	running  atomic.Bool
	shutdown sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDLTConsumer opens one group fetcher over the DLT topics of the given
// base topics.
func NewDLTConsumer(factory messaging.FetcherFactory, groupID string, store storage.Store, alerts *alerting.Manager, o11y observability.Observability, clk clock.Clock, baseTopics ...string) (*DLTConsumer, error) {
	if len(baseTopics) == 0 {
		return nil, errors.New("dlt consumer requires at least one topic")
	}
	topics := make([]string, len(baseTopics))
	for i, base := range baseTopics {
		topics[i] = DLTTopic(base)
	}
	fetcher, err := factory(groupID, topics...)
	if err != nil {
		return nil, fmt.Errorf("open dlt fetcher: %w", err)
	}
	return &DLTConsumer{
		fetcher: fetcher,
		store:   store,
		alerts:  alerts,
		o11y:    o11y,
		clock:   clk,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the drain loop.
func (d *DLTConsumer) Start(_ context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dlt consumer already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	go func() {
		defer close(d.done)
		for {
			msg, err := d.fetcher.Fetch(runCtx)
			if err != nil {
				if runCtx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				d.o11y.Logger().Error(runCtx, "dlt fetch failed", observability.Error(err))
				select {
				case <-runCtx.Done():
					return
				case <-d.clock.After(time.Second):
				}
				continue
			}
			d.handle(runCtx, msg)
		}
	}()
	return nil
}

func (d *DLTConsumer) handle(ctx context.Context, msg messaging.Message) {
	reason := msg.Headers[headerReason]
	if reason == "" {
		reason = ReasonPermanentFailure
	}

	entry := storage.AuditEntry{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Reason:    reason,
		Error:     msg.Headers[headerError],
		Payload:   msg.Value,
		CreatedAt: d.clock.Now(),
	}
	if err := d.store.SaveAudit(ctx, entry); err != nil {
		// Do not commit; the record is refetched and audited on the next
		// pass.
		d.o11y.Logger().Error(ctx, "dlt audit write failed",
			observability.String("topic", msg.Topic),
			observability.Error(err))
		return
	}

	if d.alerts != nil {
		d.alerts.Raise(ctx, "DLT_EVENT", msg.Topic, alerting.SeverityCritical,
			fmt.Sprintf("record dead-lettered (%s) at %s[%d]@%d, manual intervention required",
				reason, msg.Topic, msg.Partition, msg.Offset),
			msg.Headers["correlation_id"],
			map[string]string{"reason": reason})
	}
	d.o11y.Metrics().IncCounter("dlt_records_total", "topic", msg.Topic, "reason", reason)

	if err := d.fetcher.Commit(ctx, msg); err != nil {
		d.o11y.Logger().Error(ctx, "dlt offset commit failed",
			observability.String("topic", msg.Topic),
			observability.Error(err))
	}
}

// Shutdown stops the drain loop and closes the fetcher.
func (d *DLTConsumer) Shutdown(ctx context.Context) error {
	var err error
	d.shutdown.Do(func() {
		if !d.running.CompareAndSwap(true, false) {
			return
		}
		d.cancel()
		select {
		case <-d.done:
		case <-ctx.Done():
			err = fmt.Errorf("dlt consumer shutdown: %w", ctx.Err())
		}
		if cerr := d.fetcher.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
