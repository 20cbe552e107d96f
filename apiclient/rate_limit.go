package apiclient

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitConfig throttles outgoing transport calls client-wide. Retries
// count against the limit like any other call.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables
	// limiting.
	RequestsPerSecond float64

	// Burst is the number of calls allowed at once above the sustained rate.
	Burst int

	// WaitOnLimit blocks until a token is available. When false, calls
	// over the limit fail immediately with ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig allows 100 calls per second with bursts of 10,
// waiting rather than failing.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is returned when a call exceeds the client's rate limit
// and WaitOnLimit is false.
var ErrRateLimited = errors.New("apiclient: rate limit exceeded")

type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
}

func newRateLimitTransport(next http.RoundTripper, cfg *RateLimitConfig) http.RoundTripper {
	if cfg == nil || cfg.RequestsPerSecond <= 0 {
		return next
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		wait:    cfg.WaitOnLimit,
	}
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.wait {
		if !t.limiter.Allow() {
			return nil, ErrRateLimited
		}
		return t.next.RoundTrip(req)
	}

	if err := t.limiter.Wait(req.Context()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Wait fails without blocking when the deadline is closer than the
		// next token.
		return nil, ErrRateLimited
	}
	return t.next.RoundTrip(req)
}
