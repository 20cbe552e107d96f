// Package apiclient is a configurable HTTP request pipeline that turns every
// call into a normalized result envelope.
//
// # Quick Start
//
//	client, err := apiclient.New(
//	    apiclient.WithBaseURL("https://api.example.com"),
//	    apiclient.WithAuth(apiclient.Use(apiclient.BearerAuth(token))),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	env, err := client.Request(ctx, apiclient.RequestSpec{Endpoint: "/items"})
//	// env.Success, env.Code, env.Message, env.Data
//
// Request and RequestBatch only return an error for malformed input
// (ErrValidation). Timeouts, connection failures, error statuses, parse
// failures and formatter failures all come back as an Envelope with
// Success false and a Code that tells them apart.
//
// # Strategies
//
// Authentication, parsing, formatting, batch execution and the cache
// backend are pluggable. Each is resolved in three tiers: the client's
// option, then its Profile, then the built-in default. See Strategy.
//
// # Caching
//
// WithCache enables a response cache for GET and HEAD requests. Only
// successful envelopes are stored. Cacheless and Refresh return views of
// the client that skip the cache read (and, for Cacheless, the write).
package apiclient

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/apiclient-go/cache"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/apiclient-go/apiclient"

	// DefaultMaxWorkers is the worker count of the default batch executor.
	DefaultMaxWorkers = 10

	// DefaultCacheExpire is the lifetime of cache entries when neither the
	// call nor the client sets one.
	DefaultCacheExpire = 300 * time.Second
)

// CacheBackend is the store used by the response cache.
type CacheBackend = cache.Backend[Envelope]

// =============================================================================
// CacheConfig
// =============================================================================

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Enabled turns the cache on. It can be toggled later with
	// EnableCache and DisableCache.
	Enabled bool

	// DefaultExpire is the entry lifetime used when a call does not set
	// cache_expire. A negative value stores entries without expiry.
	//
	// Default: 300s
	DefaultExpire time.Duration

	// MaxSize bounds the built-in in-memory backend.
	//
	// Default: 1000
	MaxSize int

	// Methods lists the cacheable HTTP methods.
	//
	// Default: GET, HEAD
	Methods []string

	// UserSpecific adds the client's user identifier to every key so
	// callers never see each other's entries. Requires WithUserIdentifier.
	UserSpecific bool
}

// DefaultCacheConfig returns an enabled cache with the default lifetime
// and size.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		DefaultExpire: DefaultCacheExpire,
		MaxSize:       cache.DefaultMaxSize,
		Methods:       []string{http.MethodGet, http.MethodHead},
	}
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds everything an Option can set.
type internalConfig struct {
	serviceName string
	baseURL     string
	endpoint    string
	method      string
	headers     map[string]string
	params      map[string]any
	maxWorkers  int
	userID      string

	transport      TransportConfig
	retry          RetryConfig
	backOffFactory BackOffFactory

	// RetryClassifier overrides the status-code classifier built from the
	// retry config.
	RetryClassifier RetryClassifier

	breaker   *BreakerConfig
	rateLimit *RateLimitConfig
	cache     CacheConfig

	profile      *Profile
	auth         Strategy[Authenticator]
	parser       Strategy[Parser]
	formatter    Strategy[Formatter]
	executor     Strategy[Executor]
	cacheBackend Strategy[CacheBackend]

	// baseTransport replaces the pooled http.Transport, mostly for tests.
	baseTransport http.RoundTripper

	logger zerolog.Logger
	debug  bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *metrics
}

func defaultInternalConfig() *internalConfig {
	return &internalConfig{
		method:         http.MethodGet,
		headers:        map[string]string{},
		maxWorkers:     DefaultMaxWorkers,
		transport:      DefaultTransportConfig(),
		retry:          DefaultRetryConfig(),
		cache:          CacheConfig{DefaultExpire: DefaultCacheExpire, MaxSize: cache.DefaultMaxSize},
		logger:         zerolog.Nop(),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
}

// newConfig applies the profile (if any option sets one) and then the
// options themselves, so options always override profile values.
func newConfig(opts ...Option) *internalConfig {
	probe := &internalConfig{headers: map[string]string{}}
	for _, opt := range opts {
		opt(probe)
	}

	cfg := defaultInternalConfig()
	if probe.profile != nil {
		cfg.applyProfile(*probe.profile)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.cacheBackend.isSet() {
		cfg.cache.Enabled = true
	}
	if cfg.cache.DefaultExpire == 0 {
		cfg.cache.DefaultExpire = DefaultCacheExpire
	}
	if len(cfg.cache.Methods) == 0 {
		cfg.cache.Methods = []string{http.MethodGet, http.MethodHead}
	}
	if cfg.debug && cfg.logger.GetLevel() == zerolog.Disabled {
		cfg.logger = debugLogger()
	}

	cfg.tracer = cfg.tracerProvider.Tracer(scope)
	// A meter that fails to register leaves metrics nil, which records
	// nothing.
	cfg.metrics, _ = newMetrics(cfg.meterProvider.Meter(scope))

	return cfg
}

func (cfg *internalConfig) applyProfile(p Profile) {
	cfg.profile = &p
	if p.BaseURL != "" {
		cfg.baseURL = p.BaseURL
	}
	if p.Endpoint != "" {
		cfg.endpoint = p.Endpoint
	}
	if p.Method != "" {
		cfg.method = p.Method
	}
	for k, v := range p.Headers {
		cfg.headers[k] = v
	}
	if p.Timeout > 0 {
		cfg.transport.Timeout = p.Timeout
	}
	if p.Retry != nil {
		cfg.retry = *p.Retry
	}
	if p.MaxWorkers != 0 {
		cfg.maxWorkers = p.MaxWorkers
	}
	if p.CacheBackend.isSet() {
		cfg.cache.Enabled = true
	}
	if p.Name != "" && cfg.serviceName == "" {
		cfg.serviceName = p.Name
	}
}

// public returns the read-only view handed to strategy factories.
func (cfg *internalConfig) public() Config {
	headers := make(map[string]string, len(cfg.headers))
	for k, v := range cfg.headers {
		headers[k] = v
	}
	return Config{
		ServiceName: cfg.serviceName,
		BaseURL:     cfg.baseURL,
		Endpoint:    cfg.endpoint,
		Method:      cfg.method,
		Headers:     headers,
		MaxWorkers:  cfg.maxWorkers,
		Transport:   cfg.transport,
		Retry:       cfg.retry,
		Cache:       cfg.cache,
	}
}

func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if cfg.serviceName != "" {
		attrs = append(attrs, attribute.String("apiclient.name", cfg.serviceName))
	}
	return attrs
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Client.
type Option func(*internalConfig)

// WithProfile starts the client from p. Options override profile values
// regardless of the order they are passed in.
func WithProfile(p Profile) Option {
	return func(cfg *internalConfig) { cfg.profile = &p }
}

// WithServiceName names the client in logs, spans and metrics.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) { cfg.serviceName = name }
}

// WithBaseURL sets the base address every endpoint is joined to. It is
// required.
func WithBaseURL(u string) Option {
	return func(cfg *internalConfig) { cfg.baseURL = u }
}

// WithDefaultEndpoint sets the endpoint used when a spec has none.
func WithDefaultEndpoint(endpoint string) Option {
	return func(cfg *internalConfig) { cfg.endpoint = endpoint }
}

// WithDefaultMethod sets the method used when a spec has none.
//
// Default: GET
func WithDefaultMethod(method string) Option {
	return func(cfg *internalConfig) { cfg.method = method }
}

// WithHeader adds a default header. Per-call headers with the same name
// win.
func WithHeader(key, value string) Option {
	return func(cfg *internalConfig) { cfg.headers[key] = value }
}

// WithHeaders adds several default headers.
func WithHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		for k, v := range headers {
			cfg.headers[k] = v
		}
	}
}

// WithDefaultParams sets query parameters sent with every request.
// Per-call params with the same name win.
func WithDefaultParams(params map[string]any) Option {
	return func(cfg *internalConfig) { cfg.params = params }
}

// WithTimeout sets the per-attempt transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) { cfg.transport.Timeout = d }
}

// WithTransportConfig replaces the connection pool settings.
func WithTransportConfig(tc TransportConfig) Option {
	return func(cfg *internalConfig) { cfg.transport = tc }
}

// WithTransport replaces the pooled transport with rt. Retry, breaker and
// rate limiting still wrap rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) { cfg.baseTransport = rt }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) { cfg.retry = rc }
}

// WithRetryBackOff replaces the exponential schedule. The factory is
// called once per request.
func WithRetryBackOff(f BackOffFactory) Option {
	return func(cfg *internalConfig) { cfg.backOffFactory = f }
}

// WithRetryClassifier replaces the status-code based retry decision.
// Method filtering and MaxRetries still apply.
func WithRetryClassifier(c RetryClassifier) Option {
	return func(cfg *internalConfig) { cfg.RetryClassifier = c }
}

// WithCircuitBreaker installs a circuit breaker below the retry policy.
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) { cfg.breaker = &bc }
}

// WithRateLimit throttles transport calls client-wide.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) { cfg.rateLimit = &rl }
}

// WithMaxWorkers sets the worker count of the default batch executor.
//
// Default: 10
func WithMaxWorkers(n int) Option {
	return func(cfg *internalConfig) { cfg.maxWorkers = n }
}

// WithAuth selects the authenticator.
func WithAuth(s Strategy[Authenticator]) Option {
	return func(cfg *internalConfig) { cfg.auth = s }
}

// WithParser selects the response parser.
//
// Default: JSONParser
func WithParser(s Strategy[Parser]) Option {
	return func(cfg *internalConfig) { cfg.parser = s }
}

// WithFormatter selects the envelope formatter.
//
// Default: DefaultFormatter
func WithFormatter(s Strategy[Formatter]) Option {
	return func(cfg *internalConfig) { cfg.formatter = s }
}

// WithExecutor selects the executor used for async batches.
//
// Default: PoolExecutor with MaxWorkers workers
func WithExecutor(s Strategy[Executor]) Option {
	return func(cfg *internalConfig) { cfg.executor = s }
}

// WithCache enables the response cache with cc.
func WithCache(cc CacheConfig) Option {
	return func(cfg *internalConfig) { cfg.cache = cc }
}

// WithCacheBackend selects the cache store and enables caching.
//
// Default: an in-memory LRU of CacheConfig.MaxSize entries
func WithCacheBackend(s Strategy[CacheBackend]) Option {
	return func(cfg *internalConfig) {
		cfg.cacheBackend = s
		cfg.cache.Enabled = true
	}
}

// WithUserIdentifier sets the user the client acts for. With
// CacheConfig.UserSpecific it scopes cache keys to this user.
func WithUserIdentifier(id string) Option {
	return func(cfg *internalConfig) { cfg.userID = id }
}

// WithLogger sets the client's logger.
//
// Default: zerolog.Nop()
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *internalConfig) { cfg.logger = l }
}

// WithDebug logs every request at debug level, including a curl
// rendition. Without WithLogger, a console logger on stdout is used.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) { cfg.debug = enabled }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
//
// Default: otel.GetTracerProvider()
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) { cfg.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
//
// Default: otel.GetMeterProvider()
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) { cfg.meterProvider = mp }
}
