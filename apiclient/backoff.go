package apiclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
)

// BackOffFactory builds a fresh backoff for each request. Backoff values
// carry per-request state, so one instance is never shared between
// concurrent requests.
type BackOffFactory func() backoff.BackOff

// ExponentialBackOffFromConfig builds the default exponential schedule:
// InitialInterval * Multiplier^n, capped at MaxInterval and randomized by
// JitterFactor. A JitterFactor of zero yields exact delays.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: clampJitter(cfg.JitterFactor),
		Multiplier:          multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
}

// LinearBackOff grows the delay by a fixed Increment per attempt.
type LinearBackOff struct {
	InitialInterval time.Duration
	Increment       time.Duration
	MaxInterval     time.Duration
	JitterFactor    float64

	attempt int
}

// NewLinearBackOff returns a LinearBackOff starting at initial and growing
// by increment, capped at maxInterval.
func NewLinearBackOff(initial, increment, maxInterval time.Duration) *LinearBackOff {
	return &LinearBackOff{
		InitialInterval: initial,
		Increment:       increment,
		MaxInterval:     maxInterval,
	}
}

func (b *LinearBackOff) Reset() { b.attempt = 0 }

func (b *LinearBackOff) NextBackOff() time.Duration {
	d := b.InitialInterval + time.Duration(b.attempt)*b.Increment
	b.attempt++
	if b.MaxInterval > 0 && d > b.MaxInterval {
		d = b.MaxInterval
	}
	return applyJitter(d, b.JitterFactor)
}

// ConstantBackOff waits the same Interval before every retry.
type ConstantBackOff struct {
	Interval     time.Duration
	JitterFactor float64
}

func (b *ConstantBackOff) Reset() {}

func (b *ConstantBackOff) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// DecorrelatedJitterBackOff picks each delay uniformly from
// [Base, previous*3], capped at Cap.
type DecorrelatedJitterBackOff struct {
	Base time.Duration
	Cap  time.Duration

	sleep time.Duration
}

func (b *DecorrelatedJitterBackOff) Reset() { b.sleep = b.Base }

func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep < b.Base {
		b.sleep = b.Base
	}
	upper := b.sleep * 3
	if b.Cap > 0 && upper > b.Cap {
		upper = b.Cap
	}
	b.sleep = randomBetween(b.Base, upper)
	return b.sleep
}

func clampJitter(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func applyJitter(d time.Duration, factor float64) time.Duration {
	factor = clampJitter(factor)
	if factor == 0 || d <= 0 {
		return d
	}
	delta := float64(d) * factor
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}
