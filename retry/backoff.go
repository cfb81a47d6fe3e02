package retry

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before the next attempt. Delay must never
// return a negative duration. Exponential policies grow with the attempt
// number; jittered policies need not be monotonic.
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval between every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	if b.Interval < 0 {
		return 0
	}
	return b.Interval
}

// ExponentialBackoff waits Initial × Multiplier^(attempt−1), capped at Max
// when Max is positive.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if d < 0 {
		return 0
	}
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// JitterBackoff applies full jitter on top of a base policy: the delay is
// uniformly random in [0, base]. Rand may be injected for deterministic
// tests; it defaults to math/rand.
type JitterBackoff struct {
	Base BackoffPolicy
	Rand func() float64
}

func (b JitterBackoff) Delay(attempt int) time.Duration {
	base := b.Base.Delay(attempt)
	if base <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(base))
}
