package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "telemetry-engine", cfg.ServiceName)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  groupId: engine-prod
anomaly:
  sensitivity: 2.5
consumers:
  user_experience:
    enabled: false
  performance_metrics:
    concurrency: 8
schedule:
  cleanup: 12h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "engine-prod", cfg.Kafka.GroupID)
	assert.Equal(t, 2.5, cfg.Anomaly.Sensitivity)
	assert.Equal(t, 12*time.Hour, cfg.Schedule.Cleanup)

	enabled, _ := cfg.ConsumerFor("user_experience", 4)
	assert.False(t, enabled)
	enabled, concurrency := cfg.ConsumerFor("performance_metrics", 4)
	assert.True(t, enabled)
	assert.Equal(t, 8, concurrency)
	enabled, concurrency = cfg.ConsumerFor("system_health", 4)
	assert.True(t, enabled)
	assert.Equal(t, 4, concurrency)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Kafka.Brokers = nil
	cfg.Resources.CPU = Bounds{Warning: 95, Critical: 90}
	cfg.Confidence.Fraud = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
	assert.Contains(t, err.Error(), "resources.cpu")
	assert.Contains(t, err.Error(), "confidence.fraud")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
