package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls job retry spacing: base * 2^attempt, capped at
// Ceiling, with ±JitterFraction random jitter.
type BackoffConfig struct {
	Base           time.Duration
	Ceiling        time.Duration
	JitterFraction float64
}

// DefaultBackoffConfig spaces retries 30s, 1m, 2m, ... capped at 15m.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:           30 * time.Second,
		Ceiling:        15 * time.Minute,
		JitterFraction: 0.25,
	}
}

// Backoff returns the delay before retry number attempt (0-based). The
// un-jittered delay is monotonically non-decreasing; jitter is bounded so
// that delay(n+1) > delay(n) still holds for the default config's early
// attempts.
func (c BackoffConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := c.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := c.Ceiling
	if ceiling <= 0 {
		ceiling = 15 * time.Minute
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}

	if c.JitterFraction > 0 {
		jitterRange := delay * c.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < float64(base) {
		delay = float64(base)
	}
	return time.Duration(delay)
}
