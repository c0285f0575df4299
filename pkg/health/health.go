package health

import (
	"context"
	"time"
)

// Result represents the outcome of a single health probe
type Result struct {
	Healthy   bool
	Message   string
	Endpoint  string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result
}

// Config contains common probe configuration
type Config struct {
	// Timeout is the per-probe deadline
	Timeout time.Duration

	// PropagationWait is the grace period before the first probe, giving
	// the platform edge time to propagate the new artifact
	PropagationWait time.Duration

	// Retries is the number of consecutive failures tolerated before a
	// deployment is marked unhealthy
	Retries int

	// RetryInterval is the pause between retries
	RetryInterval time.Duration

	// ResponseTimeBudget fails a probe that answered 2xx but too slowly
	ResponseTimeBudget time.Duration
}

// DefaultConfig returns a Config with the standard post-deploy budget
func DefaultConfig() Config {
	return Config{
		Timeout:            10 * time.Second,
		PropagationWait:    10 * time.Second,
		Retries:            3,
		RetryInterval:      5 * time.Second,
		ResponseTimeBudget: 2 * time.Second,
	}
}

// Status tracks consecutive probe outcomes for one endpoint
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus creates a Status assuming health until proven otherwise
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds a probe result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
