package apiclient

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Strategy selects one pluggable component: either a ready Instance or a
// Factory that builds one from the client's resolved Config. When both
// are set, Instance wins.
type Strategy[T any] struct {
	Instance T
	Factory  func(cfg Config) (T, error)
}

// Use wraps a ready instance as a Strategy.
func Use[T any](v T) Strategy[T] {
	return Strategy[T]{Instance: v}
}

// Build wraps a factory as a Strategy.
func Build[T any](f func(cfg Config) (T, error)) Strategy[T] {
	return Strategy[T]{Factory: f}
}

func (s Strategy[T]) hasInstance() bool {
	return any(s.Instance) != nil
}

func (s Strategy[T]) isSet() bool {
	return s.hasInstance() || s.Factory != nil
}

// Profile is the shared baseline for a family of clients talking to the
// same API. It plays the part of per-API defaults: every client built
// WithProfile starts from these values, and the client's own options
// override them field by field.
//
// A Profile is copied into each client at construction; changing it
// afterwards has no effect on existing clients.
type Profile struct {
	Name string

	BaseURL  string
	Endpoint string
	Method   string
	Headers  map[string]string
	Timeout  time.Duration

	// Retry replaces the built-in retry policy when set.
	Retry *RetryConfig

	MaxWorkers int

	Auth         Strategy[Authenticator]
	Parser       Strategy[Parser]
	Formatter    Strategy[Formatter]
	Executor     Strategy[Executor]
	CacheBackend Strategy[CacheBackend]
}

// Config is the resolved, read-only view of a client's settings. It is
// passed to strategy factories.
type Config struct {
	ServiceName string
	BaseURL     string
	Endpoint    string
	Method      string
	Headers     map[string]string
	MaxWorkers  int
	Transport   TransportConfig
	Retry       RetryConfig
	Cache       CacheConfig
}

// resolveStrategy picks a component through three tiers: the option set
// on the client, then the profile, then the built-in default. A factory
// that fails (or returns nil) is logged and replaced by safe instead of
// falling through to the next tier.
func resolveStrategy[T any](
	kind string,
	option, profile Strategy[T],
	cfg Config,
	builtin, safe func() T,
	logger zerolog.Logger,
) T {
	tiers := []struct {
		source   string
		strategy Strategy[T]
	}{
		{"option", option},
		{"profile", profile},
	}

	for _, tier := range tiers {
		s := tier.strategy
		if !s.isSet() {
			continue
		}
		if s.hasInstance() {
			return s.Instance
		}

		v, err := callFactory(s.Factory, cfg)
		if err == nil && any(v) != nil {
			return v
		}
		if err == nil {
			err = fmt.Errorf("factory returned nil")
		}
		logger.Warn().
			Err(err).
			Str("strategy", kind).
			Str("source", tier.source).
			Msg("strategy factory failed, using safe default")
		return safe()
	}

	return builtin()
}

// callFactory runs f, turning a panic into an error.
func callFactory[T any](f func(Config) (T, error), cfg Config) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return f(cfg)
}
