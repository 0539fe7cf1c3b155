package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// BackoffDelay computes the raw delay before attempt n (zero-based), capped
// at maxInterval. Without jitter it is non-decreasing in the attempt count.
func BackoffDelay(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// Jitter spreads a delay uniformly across [d*(1-frac), d*(1+frac)] so that
// redeliveries of a burst of failures do not land on the store at once.
func Jitter(d time.Duration, frac float64, rng *rand.Rand) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	spread := 1 - frac + 2*frac*rng.Float64()
	return time.Duration(float64(d) * spread)
}
