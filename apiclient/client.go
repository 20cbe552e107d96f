package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kroma-labs/apiclient-go/cache"
)

// Client executes RequestSpecs and returns Envelopes.
//
// A Client owns its connection pool and is safe for concurrent use. The
// views returned by Cacheless and Refresh share everything with the
// client they came from, including the pool; closing any of them closes
// all of them.
type Client struct {
	*core
	mode cacheMode
}

type cacheMode uint8

const (
	cacheDefault cacheMode = iota
	cacheBypass
	cacheRefresh
)

func (m cacheMode) String() string {
	switch m {
	case cacheBypass:
		return "cacheless"
	case cacheRefresh:
		return "refresh"
	default:
		return "default"
	}
}

// core is the state shared by a client and its views.
type core struct {
	cfg    *internalConfig
	logger zerolog.Logger

	httpClient *http.Client
	pool       *http.Transport

	auth       Authenticator
	parser     Parser
	formatter  Formatter
	executor   Executor
	sequential Executor

	cache        CacheBackend
	cacheEnabled atomic.Bool
	flight       singleflight.Group

	closeOnce sync.Once
	closeErr  error
}

// New builds a client. It fails with a validation *Error when the
// configuration is unusable, most commonly a missing base URL.
func New(opts ...Option) (*Client, error) {
	cfg := newConfig(opts...)
	cfg.method = strings.ToUpper(cfg.method)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")

	c := &core{
		cfg:        cfg,
		logger:     cfg.logger.With().Str("component", "apiclient").Logger(),
		sequential: SequentialExecutor{},
	}
	if cfg.serviceName != "" {
		c.logger = c.logger.With().Str("client", cfg.serviceName).Logger()
	}

	base := cfg.baseTransport
	if base == nil {
		c.pool = cfg.transport.buildTransport()
		base = c.pool
	}
	var rt http.RoundTripper = base
	rt = newRateLimitTransport(rt, cfg.rateLimit)
	rt = newBreakerTransport(rt, cfg)
	rt = newRetryTransport(rt, cfg)
	c.httpClient = &http.Client{Transport: rt}

	c.resolveStrategies()
	c.cacheEnabled.Store(cfg.cache.Enabled)

	return &Client{core: c}, nil
}

func (c *core) resolveStrategies() {
	cfg := c.cfg
	public := cfg.public()
	var profile Profile
	if cfg.profile != nil {
		profile = *cfg.profile
	}

	c.auth = resolveStrategy("auth", cfg.auth, profile.Auth, public,
		func() Authenticator { return nil },
		func() Authenticator { return nil },
		c.logger)

	c.parser = resolveStrategy("parser", cfg.parser, profile.Parser, public,
		func() Parser { return JSONParser{} },
		func() Parser { return BytesParser{} },
		c.logger)

	c.formatter = resolveStrategy("formatter", cfg.formatter, profile.Formatter, public,
		func() Formatter { return DefaultFormatter{} },
		func() Formatter { return DefaultFormatter{} },
		c.logger)

	pool := func() Executor { return NewPoolExecutor(cfg.maxWorkers) }
	c.executor = resolveStrategy("executor", cfg.executor, profile.Executor, public, pool, pool, c.logger)

	memory := func() CacheBackend { return cache.NewMemory[Envelope](cfg.cache.MaxSize) }
	c.cache = resolveStrategy("cache", cfg.cacheBackend, profile.CacheBackend, public, memory, memory, c.logger)
}

// RequestOnce builds a temporary client from opts, executes spec and
// closes the client.
func RequestOnce(ctx context.Context, spec RequestSpec, opts ...Option) (Envelope, error) {
	c, err := New(opts...)
	if err != nil {
		return Envelope{}, err
	}
	defer c.Close()
	return c.Request(ctx, spec)
}

// Request executes one spec. The only error it returns is a validation
// *Error for a malformed spec; every other failure is in the envelope.
func (c *Client) Request(ctx context.Context, spec RequestSpec) (Envelope, error) {
	spec = spec.normalized()
	if err := spec.Validate(); err != nil {
		return Envelope{}, err
	}
	return c.cachedRequest(ctx, NewRequestID(), spec), nil
}

// RequestBatch executes specs and returns one envelope per spec, in input
// order. With async false the specs run one after another; with async
// true they go to the configured Executor. An empty batch returns an
// empty slice.
func (c *Client) RequestBatch(ctx context.Context, specs []RequestSpec, async bool) ([]Envelope, error) {
	normalized := make([]RequestSpec, len(specs))
	for i, spec := range specs {
		spec = spec.normalized()
		if err := spec.Validate(); err != nil {
			apiErr, _ := AsError(err)
			return nil, validationErrorf("request %d: %s", i, apiErr.Message)
		}
		normalized[i] = spec
	}
	if len(normalized) == 0 {
		c.logger.Info().Msg("empty batch, nothing to execute")
		return []Envelope{}, nil
	}
	return c.cachedBatch(ctx, normalized, async), nil
}

// Dispatch accepts a request in any of the forms a caller may hold: a
// RequestSpec, a *RequestSpec, a []RequestSpec, a map[string]any or a
// []map[string]any (maps use the RequestSpec JSON field names). A single
// request returns an Envelope and a list returns a []Envelope. Any other
// input is a validation error.
func (c *Client) Dispatch(ctx context.Context, input any, async bool) (any, error) {
	switch v := input.(type) {
	case RequestSpec:
		return c.Request(ctx, v)
	case *RequestSpec:
		if v == nil {
			return nil, validationErrorf("request must not be nil")
		}
		return c.Request(ctx, *v)
	case map[string]any:
		spec, err := specFromMap(v)
		if err != nil {
			return nil, err
		}
		return c.Request(ctx, spec)
	case []RequestSpec:
		return c.RequestBatch(ctx, v, async)
	case []map[string]any:
		specs := make([]RequestSpec, len(v))
		for i, m := range v {
			spec, err := specFromMap(m)
			if err != nil {
				return nil, validationErrorf("request %d: %s", i, err.Error())
			}
			specs[i] = spec
		}
		return c.RequestBatch(ctx, specs, async)
	case []any:
		specs := make([]RequestSpec, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, validationErrorf("request %d: expected an object, got %T", i, item)
			}
			spec, err := specFromMap(m)
			if err != nil {
				return nil, validationErrorf("request %d: %s", i, err.Error())
			}
			specs[i] = spec
		}
		return c.RequestBatch(ctx, specs, async)
	default:
		return nil, validationErrorf("request must be a spec or a list of specs, got %T", input)
	}
}

// Run implements Runner: it executes spec without consulting the cache.
func (c *Client) Run(ctx context.Context, requestID string, spec RequestSpec) Envelope {
	return c.execute(ctx, requestID, spec)
}

// Cacheless returns a view of the client that neither reads nor writes
// the cache.
func (c *Client) Cacheless() *Client {
	return &Client{core: c.core, mode: cacheBypass}
}

// Refresh returns a view of the client that skips cache reads but stores
// successful results, replacing whatever was cached.
func (c *Client) Refresh() *Client {
	return &Client{core: c.core, mode: cacheRefresh}
}

// Config returns the client's resolved configuration.
func (c *Client) Config() Config {
	return c.cfg.public()
}

// HTTP returns the underlying *http.Client, with the retry, breaker and
// rate limit transports installed.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Close releases idle pooled connections and closes the executor and the
// cache backend when they hold resources. It is safe to call more than
// once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.pool != nil {
			c.pool.CloseIdleConnections()
		}
		var errs []error
		if closer, ok := c.executor.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
		if closer, ok := c.cache.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
