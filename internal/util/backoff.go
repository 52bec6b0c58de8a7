package util

import (
	"math/rand"
	"time"
)

// Backoff is an exponential backoff with proportional jitter.
// Not safe for concurrent use; each loop owns its own instance.
type Backoff struct {
	min, max time.Duration
	factor   float64
	jitter   float64
	cur      time.Duration
}

// NewBackoff returns a backoff starting at min, multiplying by factor up to
// max. jitter is a fraction (0.2 = ±20%) applied to every returned delay.
func NewBackoff(min, max time.Duration, factor, jitter float64) *Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	if factor < 1 {
		factor = 1
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{min: min, max: max, factor: factor, jitter: jitter}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else {
		b.cur = time.Duration(float64(b.cur) * b.factor)
		if b.cur > b.max {
			b.cur = b.max
		}
	}

	d := b.cur
	if b.jitter > 0 {
		delta := float64(d) * b.jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Reset puts the backoff back to its initial delay.
func (b *Backoff) Reset() { b.cur = 0 }
