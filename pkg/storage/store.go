// Package storage persists durable telemetry records, predictions and DLT
// audit entries, and provides the transactional envelope the consumer
// runtime wraps around handler invocations.
package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of database/sql both *sql.DB and *sql.Tx satisfy.
// Handlers receive it through the transactional scope.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Record is the narrow durable row each family writes. Family-specific
// numeric fields go into Metric/Value/Status; anything else into Metadata.
type Record struct {
	EventKey      string
	Family        string
	EventType     string
	EntityID      string
	CorrelationID string
	Timestamp     time.Time
	Metric        string
	Value         float64
	Status        string
	Metadata      map[string]any
}

// Prediction is a persisted predictive insight, retained 90 days.
type Prediction struct {
	Domain        string
	Model         string
	Metric        string
	EntityID      string
	CorrelationID string
	Confidence    float64
	Horizon       time.Duration
	Value         float64
	MadeAt        time.Time
}

// AuditEntry records a dead-lettered or permanently failed record.
type AuditEntry struct {
	Topic     string
	Partition int
	Offset    int64
	Reason    string
	Error     string
	Payload   []byte
	CreatedAt time.Time
}

// SamplePoint is one persisted metric observation used for baseline
// recomputation.
type SamplePoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricKey identifies a persisted metric stream.
type MetricKey struct {
	EntityID string
	Metric   string
}

// Store is the persistence port. All transactional writes take the DBTX of
// the enclosing envelope; audit writes run outside any transaction so a
// rollback never loses the failure trail.
type Store interface {
	// InsertEventKey claims the idempotency key inside the transaction.
	// Returns false when the key already exists (replayed event).
	InsertEventKey(ctx context.Context, db DBTX, key string, seenAt time.Time) (bool, error)

	SaveRecord(ctx context.Context, db DBTX, rec Record) error
	SavePrediction(ctx context.Context, db DBTX, p Prediction) error

	SaveAudit(ctx context.Context, entry AuditEntry) error

	// Samples returns persisted observations for (entity, metric) since the
	// given instant, ordered by timestamp.
	Samples(ctx context.Context, key MetricKey, since time.Time) ([]SamplePoint, error)

	// MetricKeys lists the metric streams that received data since the
	// given instant.
	MetricKeys(ctx context.Context, since time.Time) ([]MetricKey, error)

	// Cleanup drops records older than before and predictions older than
	// predictionsBefore. Returns the number of rows removed.
	Cleanup(ctx context.Context, before, predictionsBefore time.Time) (int64, error)
}

// UnitOfWork runs a function inside a transaction: commit on nil error,
// rollback otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, db DBTX) error) error
}
