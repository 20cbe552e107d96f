package apiclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the client's metric instruments. A nil *metrics is valid
// and records nothing.
type metrics struct {
	// requestDuration measures one executed request, retries included.
	requestDuration metric.Float64Histogram

	// requestErrors counts failed envelopes by error kind.
	requestErrors metric.Int64Counter

	// retryAttempts counts retries (not initial attempts).
	retryAttempts metric.Int64Counter

	// retryExhausted counts requests that ran out of retries.
	retryExhausted metric.Int64Counter

	// cacheHits and cacheMisses count cache lookups for cacheable requests.
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	// breakerRequests counts breaker decisions by result.
	breakerRequests metric.Int64Counter

	// batchSize records the number of specs per batch call.
	batchSize metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"apiclient.request.duration",
		metric.WithDescription("Duration of executed requests in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		),
	)
	if err != nil {
		return nil, err
	}

	m.requestErrors, err = meter.Int64Counter(
		"apiclient.request.errors",
		metric.WithDescription("Number of unsuccessful envelopes by error kind"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"apiclient.retry.attempts",
		metric.WithDescription("Number of retried transport calls"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryExhausted, err = meter.Int64Counter(
		"apiclient.retry.exhausted",
		metric.WithDescription("Number of requests that exhausted their retries"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheHits, err = meter.Int64Counter(
		"apiclient.cache.hits",
		metric.WithDescription("Number of requests served from cache"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheMisses, err = meter.Int64Counter(
		"apiclient.cache.misses",
		metric.WithDescription("Number of cacheable requests not found in cache"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRequests, err = meter.Int64Counter(
		"apiclient.breaker.requests",
		metric.WithDescription("Number of requests seen by the circuit breaker by result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.batchSize, err = meter.Int64Histogram(
		"apiclient.batch.size",
		metric.WithDescription("Number of requests per batch call"),
		metric.WithUnit("{request}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 1000),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordRequest(ctx context.Context, d time.Duration, env Envelope, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	attrs = append(attrs,
		attribute.Bool("apiclient.success", env.Success),
		attribute.Int("apiclient.code", env.Code),
	)
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordError(ctx context.Context, kind Kind, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	attrs = append(attrs, attribute.String("error.type", kind.String()))
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordCacheLookup(ctx context.Context, hit bool, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}

func (m *metrics) recordBatch(ctx context.Context, size int, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(attrs...))
}
