package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and by deployments that run
// without postgres. All operations are safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	keys        map[string]time.Time
	records     map[string]Record
	predictions []Prediction
	audits      []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		keys:    make(map[string]time.Time),
		records: make(map[string]Record),
	}
}

func (m *Memory) InsertEventKey(_ context.Context, _ DBTX, key string, seenAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = seenAt
	return true, nil
}

func (m *Memory) SaveRecord(_ context.Context, _ DBTX, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.EventKey]; ok {
		return nil
	}
	m.records[rec.EventKey] = rec
	return nil
}

func (m *Memory) SavePrediction(_ context.Context, _ DBTX, pred Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, pred)
	return nil
}

func (m *Memory) SaveAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *Memory) Samples(_ context.Context, key MetricKey, since time.Time) ([]SamplePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SamplePoint
	for _, rec := range m.records {
		if rec.EntityID == key.EntityID && rec.Metric == key.Metric && !rec.Timestamp.Before(since) {
			out = append(out, SamplePoint{Timestamp: rec.Timestamp, Value: rec.Value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) MetricKeys(_ context.Context, since time.Time) ([]MetricKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[MetricKey]struct{})
	var out []MetricKey
	for _, rec := range m.records {
		if rec.Metric == "" || rec.Timestamp.Before(since) {
			continue
		}
		mk := MetricKey{EntityID: rec.EntityID, Metric: rec.Metric}
		if _, ok := seen[mk]; ok {
			continue
		}
		seen[mk] = struct{}{}
		out = append(out, mk)
	}
	return out, nil
}

func (m *Memory) Cleanup(_ context.Context, before, predictionsBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for key, rec := range m.records {
		if rec.Timestamp.Before(before) {
			delete(m.records, key)
			total++
		}
	}
	for key, seen := range m.keys {
		if seen.Before(before) {
			delete(m.keys, key)
			total++
		}
	}
	kept := m.predictions[:0]
	for _, pred := range m.predictions {
		if pred.MadeAt.Before(predictionsBefore) {
			total++
			continue
		}
		kept = append(kept, pred)
	}
	m.predictions = kept
	return total, nil
}

// Records returns stored records for assertions in tests.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// Predictions returns stored predictions for assertions in tests.
func (m *Memory) Predictions() []Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prediction, len(m.predictions))
	copy(out, m.predictions)
	return out
}

// Audits returns stored audit entries for assertions in tests.
func (m *Memory) Audits() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audits))
	copy(out, m.audits)
	return out
}

// passthroughUOW runs the function directly without a transaction, for
// stores that keep state in memory.
type passthroughUOW struct{}

// NewPassthroughUnitOfWork returns a UnitOfWork that invokes the function
// with a nil DBTX and no transactional guarantees.
func NewPassthroughUnitOfWork() UnitOfWork {
	return passthroughUOW{}
}

func (passthroughUOW) Do(ctx context.Context, fn func(ctx context.Context, db DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, nil)
}
