package transport

import "time"

// BackoffStrategy defines how reconnection delays are computed.
type BackoffStrategy interface {
	// NextDelay returns the delay before reconnection attempt n (1-based).
	NextDelay(attempt int) time.Duration

	// Reset resets the strategy after a successful connection.
	Reset()
}

// ExponentialBackoff computes min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= eb.Multiplier
		// Avoid overflow on absurd attempt counts; the cap applies anyway.
		if time.Duration(float64(eb.BaseDelay)*multiplier) >= eb.MaxDelay {
			return eb.MaxDelay
		}
	}

	result := time.Duration(float64(eb.BaseDelay) * multiplier)
	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}
	return result
}

func (eb *ExponentialBackoff) Reset() {
	// Stateless; nothing to reset.
}
