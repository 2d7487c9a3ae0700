package awaitprovisioning

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`       // job lock
	AwaitTimeout  time.Duration `mapstructure:"await_timeout"` // polling budget per activation
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 20,
		Timeout:       31 * time.Minute,
		AwaitTimeout:  30 * time.Minute,
	}
}

// Validate requires the job lock to outlive the polling budget, otherwise
// the broker hands the job to a second worker while the first still polls.
func (c *Config) Validate() error {
	if c.AwaitTimeout <= 0 {
		return fmt.Errorf("await_timeout must be positive")
	}
	if c.Timeout <= c.AwaitTimeout {
		return fmt.Errorf("timeout (%s) must exceed await_timeout (%s)", c.Timeout, c.AwaitTimeout)
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	return nil
}
