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

// fullJitterBackoff draws each delay uniformly from [0, exponential interval].
// Used on the publish path, where many producers may hit a recovering broker
// at once and synchronized retries would dogpile it.
type fullJitterBackoff struct {
	exp *backoff.ExponentialBackOff
}

func FullJitterBackoff(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	exp.RandomizationFactor = 0
	return &fullJitterBackoff{exp: exp}
}

func (b *fullJitterBackoff) NextBackOff() time.Duration {
	next := b.exp.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	return time.Duration(rand.Int63n(int64(next) + 1))
}

func (b *fullJitterBackoff) Reset() {
	b.exp.Reset()
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
