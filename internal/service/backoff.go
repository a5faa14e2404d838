package service

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff spaces out retries of failed tasks: Min * Factor^(attempt-1),
// capped at Max, optionally scaled down by up to half.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func NewBackoff(min, max time.Duration, factor float64) Backoff {
	return Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

func (b Backoff) Duration(attempt int) time.Duration {
	if attempt <= 0 {
		return b.Min
	}

	d := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(d)
}
