package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	body := []byte(`{
		"eventType": "PAGE_LOAD",
		"entityId": "sess-1",
		"timestamp": "2026-01-01T12:00:00Z",
		"correlationId": "corr-1",
		"payload": {"pageId": "home", "loadTimeMs": 1200}
	}`)

	evt, err := Parse(FamilyUserExperience, 3, 42, body)
	require.NoError(t, err)
	assert.Equal(t, FamilyUserExperience, evt.Family)
	assert.Equal(t, "PAGE_LOAD", evt.Type)
	assert.Equal(t, "sess-1", evt.EntityID)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), evt.Timestamp.UTC())
	assert.Equal(t, 3, evt.Partition)
	assert.Equal(t, int64(42), evt.Offset)
	assert.Equal(t, "corr-1", evt.CorrelationID)
}

func TestParseEpochMillis(t *testing.T) {
	body := []byte(`{"eventType":"CPU_UTILIZATION","entityId":"srv-1","timestamp":1767225600000}`)

	evt, err := Parse(FamilyPerformanceMonitoring, 0, 0, body)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), evt.Timestamp)
}

func TestParseTruncatedJSONIsMalformed(t *testing.T) {
	_, err := Parse(FamilyUserExperience, 0, 0, []byte(`{"eventType":"PAGE_LOAD","entityId`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseMissingFieldsFailValidation(t *testing.T) {
	_, err := Parse(FamilyUserExperience, 0, 0, []byte(`{"eventType":"PAGE_LOAD"}`))
	require.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestParseBadTimestampFailsValidation(t *testing.T) {
	_, err := Parse(FamilyUserExperience, 0, 0,
		[]byte(`{"eventType":"PAGE_LOAD","entityId":"s1","timestamp":"yesterday"}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseGeneratesCorrelationID(t *testing.T) {
	evt, err := Parse(FamilySystemHealth, 2, 7,
		[]byte(`{"eventType":"HEALTH_CHECK","entityId":"srv-1","timestamp":1767225600000}`))
	require.NoError(t, err)
	assert.Equal(t, "system_health-srv-1-p2-o7", evt.CorrelationID)
}

func TestKeyIdentity(t *testing.T) {
	body := []byte(`{"eventType":"PAGE_LOAD","entityId":"sess-1","timestamp":"2026-01-01T12:00:00Z"}`)

	a, err := Parse(FamilyUserExperience, 0, 10, body)
	require.NoError(t, err)
	b, err := Parse(FamilyUserExperience, 1, 99, body)
	require.NoError(t, err)

	// Partition and offset do not participate in identity.
	assert.Equal(t, a.Key(), b.Key())
}

func TestParsePayload(t *testing.T) {
	evt := &Event{Payload: []byte(`{"pageId":"home","loadTimeMs":1200}`)}

	type pageLoad struct {
		PageID     string  `json:"pageId"`
		LoadTimeMS float64 `json:"loadTimeMs"`
	}
	p, err := ParsePayload[pageLoad](evt)
	require.NoError(t, err)
	assert.Equal(t, "home", p.PageID)
	assert.Equal(t, 1200.0, p.LoadTimeMS)

	evt.Payload = nil
	_, err = ParsePayload[pageLoad](evt)
	assert.ErrorIs(t, err, ErrValidation)
}
