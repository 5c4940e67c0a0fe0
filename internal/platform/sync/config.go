package sync

import "time"

// Config holds configuration for the sync engine
type Config struct {
	// MaxRetries is how many failed submissions an item gets before it is
	// classified MaxRetriesExceeded
	MaxRetries int

	// MinRetryDelay is the window after a failed attempt during which the
	// item is skipped
	MinRetryDelay time.Duration

	// SubmitTimeout bounds every remote submission
	SubmitTimeout time.Duration

	// MaxAge is how long a transaction may stay pending before it expires
	MaxAge time.Duration

	// ConcurrentWallets is the max number of wallets drained concurrently.
	// Items of one wallet are always submitted one at a time.
	ConcurrentWallets int

	// PollInterval is how often Run drains on its own, besides explicit triggers.
	// Zero disables the timer.
	PollInterval time.Duration
}

// DefaultConfig returns the default sync configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:        3,
		MinRetryDelay:     5 * time.Second,
		SubmitTimeout:     10 * time.Second,
		MaxAge:            7 * 24 * time.Hour,
		ConcurrentWallets: 3,
		PollInterval:      time.Minute,
	}
}

// Validate fills unset values with defaults
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MinRetryDelay < 0 {
		c.MinRetryDelay = d.MinRetryDelay
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.ConcurrentWallets <= 0 {
		c.ConcurrentWallets = d.ConcurrentWallets
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	return nil
}
