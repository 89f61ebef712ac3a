package dispatcher

import (
	"errors"
	"time"
)

const (
	// DefaultWorkers matches the default number of concurrently running jobs.
	DefaultWorkers = 5

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// MaxWorkers is the maximum allowed pool size.
	MaxWorkers = 100
)

// Config holds configuration for the dispatcher.
type Config struct {
	// Workers is the number of jobs that may run at once.
	Workers int

	// DrainTimeout is the maximum time to wait for running jobs during shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      DefaultWorkers,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.Workers > MaxWorkers {
		return errors.New("workers cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	return nil
}

// WithWorkers sets the pool size.
func (c Config) WithWorkers(n int) Config {
	c.Workers = n
	return c
}

// WithDrainTimeout sets the drain timeout.
func (c Config) WithDrainTimeout(timeout time.Duration) Config {
	c.DrainTimeout = timeout
	return c
}
