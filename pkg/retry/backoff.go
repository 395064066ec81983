package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	return ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, 0, multiplier)
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// ConstantBackoff waits the same interval before every retry and never gives up.
func ConstantBackoff(interval time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(interval)
}

// LinearBackoff waits attempt × base after the n-th failure: base, 2·base, 3·base, …
type LinearBackoff struct {
	Base    time.Duration
	attempt int
}

func NewLinearBackoff(base time.Duration) *LinearBackoff {
	return &LinearBackoff{Base: base}
}

func (b *LinearBackoff) NextBackOff() time.Duration {
	b.attempt++
	return LinearDelay(b.attempt, b.Base)
}

func (b *LinearBackoff) Reset() {
	b.attempt = 0
}

// LinearDelay is the wait after failure number attempt (1-based).
func LinearDelay(attempt int, base time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	return time.Duration(attempt) * base
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if maxInterval > 0 && duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
