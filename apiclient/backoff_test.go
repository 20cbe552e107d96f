package apiclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackOffFromConfig(t *testing.T) {
	tests := []struct {
		name           string
		cfg            RetryConfig
		wantJitter     float64
		wantMultiplier float64
	}{
		{
			name:           "given defaults, then copies them",
			cfg:            DefaultRetryConfig(),
			wantJitter:     DefaultJitterFactor,
			wantMultiplier: DefaultMultiplier,
		},
		{
			name:           "given jitter above one, then clamps it",
			cfg:            RetryConfig{JitterFactor: 3, Multiplier: 2},
			wantJitter:     1,
			wantMultiplier: 2,
		},
		{
			name:           "given multiplier below one, then uses one",
			cfg:            RetryConfig{Multiplier: 0.2},
			wantJitter:     0,
			wantMultiplier: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ExponentialBackOffFromConfig(tt.cfg)

			assert.InDelta(t, tt.wantJitter, b.RandomizationFactor, 0.0001)
			assert.InDelta(t, tt.wantMultiplier, b.Multiplier, 0.0001)
			assert.Equal(t, tt.cfg.InitialInterval, b.InitialInterval)
			assert.Equal(t, tt.cfg.MaxInterval, b.MaxInterval)
		})
	}
}

func TestExponentialBackOff_NoJitter(t *testing.T) {
	b := ExponentialBackOffFromConfig(RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     350 * time.Millisecond,
		Multiplier:      2,
	})
	b.Reset()

	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 350*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 350*time.Millisecond, b.NextBackOff())
}

func TestLinearBackOff(t *testing.T) {
	b := NewLinearBackOff(100*time.Millisecond, 50*time.Millisecond, 220*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 150*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 220*time.Millisecond, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestConstantBackOff(t *testing.T) {
	tests := []struct {
		name   string
		b      *ConstantBackOff
		lo, hi time.Duration
	}{
		{name: "given no jitter, then returns interval", b: &ConstantBackOff{Interval: time.Second}, lo: time.Second, hi: time.Second},
		{name: "given 20% jitter, then stays within bounds", b: &ConstantBackOff{Interval: time.Second, JitterFactor: 0.2}, lo: 800 * time.Millisecond, hi: 1200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := tt.b.NextBackOff()
				assert.GreaterOrEqual(t, d, tt.lo)
				assert.LessOrEqual(t, d, tt.hi)
			}
		})
	}
}

func TestDecorrelatedJitterBackOff(t *testing.T) {
	b := &DecorrelatedJitterBackOff{Base: 10 * time.Millisecond, Cap: 200 * time.Millisecond}
	b.Reset()

	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestRetryConfig_AllowsMethod(t *testing.T) {
	cfg := DefaultRetryConfig()

	for _, m := range []string{"GET", "HEAD", "OPTIONS", "PUT", "DELETE", "TRACE", "get"} {
		assert.True(t, cfg.AllowsMethod(m), m)
	}
	for _, m := range []string{"POST", "PATCH", "CONNECT"} {
		assert.False(t, cfg.AllowsMethod(m), m)
	}
	assert.Equal(t, []int{429, 500, 502, 503, 504}, cfg.StatusCodes)
	assert.False(t, NoRetryConfig().IsEnabled())
}
