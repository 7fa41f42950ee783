package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

// WorkerMode defines which queues a worker process drains
type WorkerMode string

const (
	// WorkerModeDefault drains every queue, manual runs first
	WorkerModeDefault WorkerMode = "default"

	// WorkerModeSpecialized drains only the listed priorities, e.g. a pool
	// reserved for manual runs
	WorkerModeSpecialized WorkerMode = "specialized"
)

// WorkerConfig holds worker-specific configuration
type WorkerConfig struct {
	Mode WorkerMode

	// Concurrency is the number of worker goroutines
	Concurrency int

	// Priorities are drained in order
	Priorities []execution.Priority

	// RequestTimeout bounds a single report run
	RequestTimeout time.Duration

	// PollInterval is how long an idle worker waits before polling again
	PollInterval time.Duration
}

func (c *WorkerConfig) applyModeDefaults() {
	if len(c.Priorities) > 0 {
		return
	}
	switch c.Mode {
	case WorkerModeDefault:
		c.Priorities = []execution.Priority{execution.PriorityHigh, execution.PriorityNormal}
	case WorkerModeSpecialized:
		c.Priorities = []execution.Priority{execution.PriorityHigh}
	}
}

// Validate checks if the worker configuration is valid
func (c *WorkerConfig) Validate() error {
	if c.Mode != WorkerModeDefault && c.Mode != WorkerModeSpecialized {
		return fmt.Errorf("invalid worker mode: %s (must be one of: default, specialized)", c.Mode)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1 (got %d)", c.Concurrency)
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("worker concurrency too high: %d (maximum 1000)", c.Concurrency)
	}
	if len(c.Priorities) == 0 {
		return fmt.Errorf("worker must process at least one priority queue")
	}
	for _, p := range c.Priorities {
		if p != execution.PriorityHigh && p != execution.PriorityNormal {
			return fmt.Errorf("invalid priority: %s", p)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	return nil
}

// String returns a human-readable description of the worker config
func (c *WorkerConfig) String() string {
	parts := make([]string, len(c.Priorities))
	for i, p := range c.Priorities {
		parts[i] = string(p)
	}
	return fmt.Sprintf("WorkerConfig{mode=%s, concurrency=%d, priorities=%s, timeout=%v}",
		c.Mode, c.Concurrency, strings.Join(parts, ","), c.RequestTimeout)
}
