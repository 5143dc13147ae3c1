package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store over database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, db, nil
}

// NewPostgres wraps an existing connection (used by tests with sqlmock-style
// drivers).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) InsertEventKey(ctx context.Context, db DBTX, key string, seenAt time.Time) (bool, error) {
	if db == nil {
		db = p.db
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO processed_events (event_key, first_seen_at)
		 VALUES ($1, $2)
		 ON CONFLICT (event_key) DO NOTHING`,
		key, seenAt)
	if err != nil {
		return false, fmt.Errorf("insert event key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event key: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) SaveRecord(ctx context.Context, db DBTX, rec Record) error {
	if db == nil {
		db = p.db
	}
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO telemetry_records
		 (event_key, family, event_type, entity_id, correlation_id, ts, metric, value, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (event_key) DO NOTHING`,
		rec.EventKey, rec.Family, rec.EventType, rec.EntityID, rec.CorrelationID,
		rec.Timestamp, rec.Metric, rec.Value, rec.Status, metadata)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (p *Postgres) SavePrediction(ctx context.Context, db DBTX, pred Prediction) error {
	if db == nil {
		db = p.db
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO predictions
		 (domain, model, metric, entity_id, correlation_id, confidence, horizon_seconds, value, made_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pred.Domain, pred.Model, pred.Metric, pred.EntityID, pred.CorrelationID,
		pred.Confidence, int64(pred.Horizon.Seconds()), pred.Value, pred.MadeAt)
	if err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

func (p *Postgres) SaveAudit(ctx context.Context, entry AuditEntry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO dlt_audit (topic, partition, "offset", reason, error, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Topic, entry.Partition, entry.Offset, entry.Reason, entry.Error,
		entry.Payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("save audit entry: %w", err)
	}
	return nil
}

func (p *Postgres) Samples(ctx context.Context, key MetricKey, since time.Time) ([]SamplePoint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT ts, value FROM telemetry_records
		 WHERE entity_id = $1 AND metric = $2 AND ts >= $3
		 ORDER BY ts ASC`,
		key.EntityID, key.Metric, since)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []SamplePoint
	for rows.Next() {
		var sp SamplePoint
		if err := rows.Scan(&sp.Timestamp, &sp.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (p *Postgres) MetricKeys(ctx context.Context, since time.Time) ([]MetricKey, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id, metric FROM telemetry_records
		 WHERE ts >= $1 AND metric <> ''`,
		since)
	if err != nil {
		return nil, fmt.Errorf("query metric keys: %w", err)
	}
	defer rows.Close()

	var out []MetricKey
	for rows.Next() {
		var mk MetricKey
		if err := rows.Scan(&mk.EntityID, &mk.Metric); err != nil {
			return nil, fmt.Errorf("scan metric key: %w", err)
		}
		out = append(out, mk)
	}
	return out, rows.Err()
}

func (p *Postgres) Cleanup(ctx context.Context, before, predictionsBefore time.Time) (int64, error) {
	var total int64

	for _, stmt := range []struct {
		query string
		arg   time.Time
	}{
		{`DELETE FROM telemetry_records WHERE ts < $1`, before},
		{`DELETE FROM processed_events WHERE first_seen_at < $1`, before},
		{`DELETE FROM dlt_audit WHERE created_at < $1`, before},
		{`DELETE FROM predictions WHERE made_at < $1`, predictionsBefore},
	} {
		res, err := p.db.ExecContext(ctx, stmt.query, stmt.arg)
		if err != nil {
			return total, fmt.Errorf("cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return out, nil
}
