// Package config loads the engine configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Consumer configures one family subscription.
type Consumer struct {
	Enabled     *bool `yaml:"enabled"`
	Concurrency int   `yaml:"concurrency"`
}

// Kafka holds broker connection settings.
type Kafka struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientId"`
	GroupID  string   `yaml:"groupId"`
}

// Database holds the postgres connection.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Idempotency configures the replay cache.
type Idempotency struct {
	TTLHours int `yaml:"ttlHours"`
}

// RollingWindow configures the sample rings.
type RollingWindow struct {
	MaxSamples int           `yaml:"maxSamples"`
	MaxAge     time.Duration `yaml:"maxAge"`
}

// Anomaly configures the baseline engine.
type Anomaly struct {
	Sensitivity float64 `yaml:"sensitivity"`
}

// Bounds is a warning/critical pair.
type Bounds struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// Resources holds per-resource bounds.
type Resources struct {
	CPU    Bounds `yaml:"cpu"`
	Memory Bounds `yaml:"memory"`
	Disk   Bounds `yaml:"disk"`
}

// SLA holds the service-level bounds.
type SLA struct {
	ResponseTimeMS      float64 `yaml:"responseTimeMs"`
	AvailabilityPercent float64 `yaml:"availabilityPercent"`
	ErrorRatePercent    float64 `yaml:"errorRatePercent"`
}

// Alert holds the cooldown windows.
type Alert struct {
	CooldownCritical time.Duration `yaml:"cooldownCritical"`
	CooldownDefault  time.Duration `yaml:"cooldownDefault"`
}

// Schedule holds the periodic-task delays.
type Schedule struct {
	Aggregation       time.Duration `yaml:"aggregation"`
	Frustration       time.Duration `yaml:"frustration"`
	Trends            time.Duration `yaml:"trends"`
	CriticalPath      time.Duration `yaml:"criticalPath"`
	Scorecard         time.Duration `yaml:"scorecard"`
	Heatmap           time.Duration `yaml:"heatmap"`
	SessionReplay     time.Duration `yaml:"sessionReplay"`
	UXReport          time.Duration `yaml:"uxReport"`
	BaselineRecompute time.Duration `yaml:"baselineRecompute"`
	PredictionRefresh time.Duration `yaml:"predictionRefresh"`
	ModelEvaluation   time.Duration `yaml:"modelEvaluation"`
	ModelRetraining   time.Duration `yaml:"modelRetraining"`
	Cleanup           time.Duration `yaml:"cleanup"`
}

// Confidence holds the prediction gates.
type Confidence struct {
	Default  float64 `yaml:"default"`
	Anomaly  float64 `yaml:"anomaly"`
	Failure  float64 `yaml:"failure"`
	Fraud    float64 `yaml:"fraud"`
	Churn    float64 `yaml:"churn"`
	Capacity float64 `yaml:"capacity"`
}

// ML holds the model runtime endpoint.
type ML struct {
	BaseURL string `yaml:"baseUrl"`
}

// Config is the root configuration.
type Config struct {
	ServiceName string              `yaml:"serviceName"`
	LogLevel    string              `yaml:"logLevel"`
	Kafka       Kafka               `yaml:"kafka"`
	Database    Database            `yaml:"database"`
	ML          ML                  `yaml:"ml"`
	Consumers   map[string]Consumer `yaml:"consumers"`

	Idempotency   Idempotency   `yaml:"idempotency"`
	RollingWindow RollingWindow `yaml:"rollingWindow"`
	Anomaly       Anomaly       `yaml:"anomaly"`
	Resources     Resources     `yaml:"resources"`
	SLA           SLA           `yaml:"sla"`
	Alert         Alert         `yaml:"alert"`
	Schedule      Schedule      `yaml:"schedule"`
	Confidence    Confidence    `yaml:"confidence"`
}

// Default returns the configuration with every knob at its standard value.
func Default() *Config {
	return &Config{
		ServiceName: "telemetry-engine",
		LogLevel:    "info",
		Kafka: Kafka{
			Brokers:  []string{"localhost:9092"},
			ClientID: "telemetry-engine",
			GroupID:  "telemetry-engine",
		},
		Idempotency:   Idempotency{TTLHours: 24},
		RollingWindow: RollingWindow{MaxSamples: 1000, MaxAge: 24 * time.Hour},
		Anomaly:       Anomaly{Sensitivity: 3.0},
		Resources: Resources{
			CPU:    Bounds{Warning: 75, Critical: 90},
			Memory: Bounds{Warning: 80, Critical: 95},
			Disk:   Bounds{Warning: 80, Critical: 90},
		},
		SLA: SLA{
			ResponseTimeMS:      1000,
			AvailabilityPercent: 99.9,
			ErrorRatePercent:    1.0,
		},
		Alert: Alert{
			CooldownCritical: 5 * time.Minute,
			CooldownDefault:  15 * time.Minute,
		},
		Schedule: Schedule{
			Aggregation:       5 * time.Minute,
			Frustration:       5 * time.Minute,
			Trends:            15 * time.Minute,
			CriticalPath:      15 * time.Minute,
			Scorecard:         10 * time.Minute,
			Heatmap:           time.Hour,
			SessionReplay:     15 * time.Minute,
			UXReport:          time.Hour,
			BaselineRecompute: time.Hour,
			PredictionRefresh: 5 * time.Minute,
			ModelEvaluation:   10 * time.Minute,
			ModelRetraining:   time.Hour,
			Cleanup:           24 * time.Hour,
		},
		Confidence: Confidence{
			Default:  0.75,
			Anomaly:  0.80,
			Failure:  0.70,
			Fraud:    0.75,
			Churn:    0.60,
			Capacity: 0.85,
		},
	}
}

// Load reads the YAML file (when path is non-empty), applies environment
// overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ML_BASE_URL"); v != "" {
		c.ML.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("serviceName is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka.groupId is required"))
	}
	if c.Idempotency.TTLHours <= 0 {
		errs = append(errs, errors.New("idempotency.ttlHours must be positive"))
	}
	if c.RollingWindow.MaxSamples <= 0 {
		errs = append(errs, errors.New("rollingWindow.maxSamples must be positive"))
	}
	if c.RollingWindow.MaxAge <= 0 {
		errs = append(errs, errors.New("rollingWindow.maxAge must be positive"))
	}
	if c.Anomaly.Sensitivity <= 0 {
		errs = append(errs, errors.New("anomaly.sensitivity must be positive"))
	}
	for name, bounds := range map[string]Bounds{
		"resources.cpu": c.Resources.CPU, "resources.memory": c.Resources.Memory, "resources.disk": c.Resources.Disk,
	} {
		if bounds.Warning >= bounds.Critical {
			errs = append(errs, fmt.Errorf("%s: warning must be below critical", name))
		}
	}
	if c.Alert.CooldownCritical <= 0 || c.Alert.CooldownDefault <= 0 {
		errs = append(errs, errors.New("alert cooldowns must be positive"))
	}
	for name, conf := range map[string]float64{
		"confidence.default":  c.Confidence.Default,
		"confidence.anomaly":  c.Confidence.Anomaly,
		"confidence.failure":  c.Confidence.Failure,
		"confidence.fraud":    c.Confidence.Fraud,
		"confidence.churn":    c.Confidence.Churn,
		"confidence.capacity": c.Confidence.Capacity,
	} {
		if conf <= 0 || conf > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1]", name))
		}
	}
	return errors.Join(errs...)
}

// ConsumerFor returns the subscription settings for a family key, falling
// back to enabled with the given default concurrency.
func (c *Config) ConsumerFor(family string, defaultConcurrency int) (enabled bool, concurrency int) {
	enabled = true
	concurrency = defaultConcurrency
	sub, ok := c.Consumers[family]
	if !ok {
		return enabled, concurrency
	}
	if sub.Enabled != nil {
		enabled = *sub.Enabled
	}
	if sub.Concurrency > 0 {
		concurrency = sub.Concurrency
	}
	return enabled, concurrency
}
