package llm

import "time"

// RetryConfig controls retry attempts and backoff for a Transport call.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig makes up to 3 attempts (the first call plus 2
// retries) with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

func (c RetryConfig) backoffFor(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}
