package apiclient

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// RetryConfig configures the retry policy applied to every transport call.
//
// An attempt is retried only when all of these hold: the failure is a
// connection-level error, a per-attempt timeout, or a response whose
// status is in StatusCodes; the request method is in Methods; and fewer
// than MaxRetries retries have been made.
//
// Example:
//
//	cfg := apiclient.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	cfg.StatusCodes = []int{http.StatusServiceUnavailable}
//
//	client, err := apiclient.New(
//	    apiclient.WithBaseURL("https://api.example.com"),
//	    apiclient.WithRetryConfig(cfg),
//	)
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero disables retries.
	//
	// Default: 3
	MaxRetries uint

	// InitialInterval is the delay before the first retry.
	//
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps the delay between two attempts.
	//
	// Default: 30s
	MaxInterval time.Duration

	// MaxElapsedTime caps the total time spent retrying one request,
	// including waits. Zero means no cap beyond MaxRetries.
	//
	// Default: 2m
	MaxElapsedTime time.Duration

	// Multiplier is the growth factor applied to the delay after each retry.
	//
	// Default: 2.0
	Multiplier float64

	// JitterFactor randomizes each delay by +/- this fraction. Zero
	// disables jitter.
	//
	// Default: 0.5
	JitterFactor float64

	// StatusCodes lists the response statuses that trigger a retry.
	//
	// Default: 429, 500, 502, 503, 504
	StatusCodes []int

	// Methods lists the HTTP methods that may be retried. Non-idempotent
	// methods are excluded by default.
	//
	// Default: GET, HEAD, OPTIONS, PUT, DELETE, TRACE
	Methods []string

	// RespectRetryAfter waits for the server's Retry-After header (in
	// seconds) instead of the computed delay on 429 and 503 responses.
	//
	// Default: true
	RespectRetryAfter bool
}

const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryStatusCodes are the statuses retried by DefaultRetryConfig.
func DefaultRetryStatusCodes() []int {
	return []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// DefaultRetryMethods are the idempotent methods retried by
// DefaultRetryConfig.
func DefaultRetryMethods() []string {
	return []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
		http.MethodPut,
		http.MethodDelete,
		http.MethodTrace,
	}
}

// DefaultRetryConfig returns the balanced policy used when none is given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialInterval:   DefaultInitialInterval,
		MaxInterval:       DefaultMaxInterval,
		MaxElapsedTime:    DefaultMaxElapsedTime,
		Multiplier:        DefaultMultiplier,
		JitterFactor:      DefaultJitterFactor,
		StatusCodes:       DefaultRetryStatusCodes(),
		Methods:           DefaultRetryMethods(),
		RespectRetryAfter: true,
	}
}

// AggressiveRetryConfig retries more often with shorter waits, for
// upstreams that recover quickly.
func AggressiveRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 5
	cfg.InitialInterval = 200 * time.Millisecond
	cfg.MaxInterval = time.Minute
	cfg.MaxElapsedTime = 5 * time.Minute
	return cfg
}

// ConservativeRetryConfig retries twice with longer waits, for upstreams
// that should not be hammered.
func ConservativeRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = 10 * time.Second
	cfg.MaxElapsedTime = 30 * time.Second
	return cfg
}

// NoRetryConfig disables retries.
func NoRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 0
	return cfg
}

// IsEnabled reports whether any retry will be attempted.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// AllowsMethod reports whether requests with this method may be retried.
func (c RetryConfig) AllowsMethod(method string) bool {
	return slices.ContainsFunc(c.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}
