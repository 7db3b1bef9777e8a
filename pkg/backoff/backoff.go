package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Exponential returns base*2^(attempt-1), capped at max. Attempts below 1 are
// treated as the first attempt.
func Exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := float64(base) * mul
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

// ExponentialJitter adds a uniformly random value in [0, jitter) to
// Exponential.
func ExponentialJitter(base, max, jitter time.Duration, attempt int) time.Duration {
	d := Exponential(base, max, attempt)
	if jitter <= 0 {
		return d
	}
	return d + rand.N(jitter)
}
