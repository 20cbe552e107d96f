package apiclient

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisBreakerStore returns a breaker state store backed by Redis, so
// that every client process calling the same upstream shares one breaker.
func NewRedisBreakerStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether an attempt counts as a failure for
// the circuit breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the optional circuit breaker that sits between
// the retry policy and the network. While open, attempts fail immediately
// with gobreaker.ErrOpenState, which is never retried.
type BreakerConfig struct {
	// MaxRequests is the number of trial requests allowed while half-open.
	//
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period in the closed state after which the
	// failure counts are cleared. Zero never clears them.
	//
	// Default: 10s
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	//
	// Default: 10s
	Timeout time.Duration

	// MinRequests is the number of requests in the current interval
	// required before FailureRatio is evaluated.
	//
	// Default: 20
	MinRequests uint32

	// FailureRatio trips the breaker once this fraction of requests in
	// the interval failed.
	//
	// Default: 0.5
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after this many failures in a
	// row, regardless of MinRequests.
	//
	// Default: 5
	ConsecutiveFailures uint32

	// Store shares breaker state across processes. Nil keeps state local.
	Store gobreaker.SharedDataStore

	// Classifier decides which attempts are failures.
	//
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a breaker that trips on five consecutive
// failures or a 50% failure ratio over at least 20 requests.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		MinRequests:         20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig is DefaultBreakerConfig with shared state.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts transport errors and 5xx responses as
// failures. 4xx responses are the caller's problem and do not trip the
// breaker.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

// readyToTrip builds gobreaker's trip predicate from the config.
func (c BreakerConfig) readyToTrip() func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
			return true
		}
		if counts.Requests < c.MinRequests || c.FailureRatio <= 0 || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
}
