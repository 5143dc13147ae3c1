package scheduler

import (
	"errors"
	"time"
)

// Config holds scheduler configuration.
type Config struct {
	// TaskTimeout bounds a single task execution. Zero disables the bound.
	TaskTimeout time.Duration
}

// Option configures the scheduler.
type Option func(*Config)

// WithTaskTimeout bounds each task execution.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TaskTimeout = d
	}
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		TaskTimeout: 5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TaskTimeout < 0 {
		return errors.New("TaskTimeout must be greater than or equal to 0")
	}
	return nil
}

// Status is the scheduler health state.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusStopped Status = "stopped"
)

// HealthStatus reports scheduler health.
type HealthStatus struct {
	Status          Status
	RegisteredTasks int
	ActiveTasks     int
}
