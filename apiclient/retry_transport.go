package apiclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// retryTransport bounds every attempt with the per-request timeout and
// re-issues failed attempts according to the retry policy.
//
// When retries run out on a retryable status, the last response is
// returned unchanged so the caller sees the real final status.
type retryTransport struct {
	next       http.RoundTripper
	cfg        *internalConfig
	classifier RetryClassifier
}

func newRetryTransport(next http.RoundTripper, cfg *internalConfig) *retryTransport {
	classifier := cfg.RetryClassifier
	if classifier == nil {
		classifier = StatusCodeClassifier(cfg.retry.StatusCodes...)
	}
	return &retryTransport{next: next, cfg: cfg, classifier: classifier}
}

// retryableStatus carries a buffered response that the classifier marked
// as retryable. It unwraps to a RetryAfterError when the server asked for
// a specific delay.
type retryableStatus struct {
	resp       *http.Response
	retryAfter error
}

func (e *retryableStatus) Error() string {
	return "retryable status " + strconv.Itoa(e.resp.StatusCode)
}

func (e *retryableStatus) Unwrap() error { return e.retryAfter }

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	policy := t.cfg.retry

	body, err := bufferRequestBody(req)
	if err != nil {
		return nil, err
	}

	maxTries := uint(1)
	if policy.IsEnabled() && policy.AllowsMethod(req.Method) {
		maxTries = policy.MaxRetries + 1
	}

	span := trace.SpanFromContext(ctx)
	attrs := t.cfg.baseAttributes()
	var retries int

	opts := []backoff.RetryOption{
		backoff.WithBackOff(t.backOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(policy.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			retries++
			recordRetryEvent(span, retries, err, next)
			t.cfg.metrics.recordRetryAttempt(ctx, attrs)
			t.cfg.logger.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("retry", retries).
				Dur("delay", next).
				Err(err).
				Msg("retrying request")
		}),
	}

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		resp, err := t.attempt(req, body)
		if err != nil {
			if ctx.Err() != nil || !t.classifier(nil, err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !t.classifier(resp, nil) {
			return resp, nil
		}

		buffered, err := bufferResponse(resp)
		if err != nil {
			return nil, err
		}
		return nil, &retryableStatus{resp: buffered, retryAfter: t.retryAfter(buffered)}
	}, opts...)

	if retries > 0 {
		span.SetAttributes(
			attribute.Int("apiclient.retry_count", retries),
			attribute.Bool("apiclient.retry_success", err == nil),
		)
	}

	if err == nil {
		return resp, nil
	}

	var status *retryableStatus
	if errors.As(err, &status) {
		if retries > 0 {
			t.cfg.metrics.recordRetryExhausted(ctx, attrs)
		}
		return status.resp, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if retries > 0 {
		t.cfg.metrics.recordRetryExhausted(ctx, attrs)
	}
	return nil, err
}

// attempt performs one transport call bounded by the configured timeout.
// The timeout keeps running while the body is read and is released when
// the body is closed.
func (t *retryTransport) attempt(req *http.Request, body []byte) (*http.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if t.cfg.transport.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.cfg.transport.Timeout)
	}

	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}

	resp, err := t.next.RoundTrip(clone)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *retryTransport) backOff() backoff.BackOff {
	if t.cfg.backOffFactory != nil {
		return t.cfg.backOffFactory()
	}
	return ExponentialBackOffFromConfig(t.cfg.retry)
}

// retryAfter converts a Retry-After header in seconds into a backoff hint.
func (t *retryTransport) retryAfter(resp *http.Response) error {
	if !t.cfg.retry.RespectRetryAfter {
		return nil
	}
	if resp.StatusCode != http.StatusTooManyRequests &&
		resp.StatusCode != http.StatusServiceUnavailable {
		return nil
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return nil
	}
	return backoff.RetryAfter(secs)
}

// cancelOnClose releases the attempt's timeout when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// bufferRequestBody reads the request body once so every attempt can
// replay it.
func bufferRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// bufferResponse reads and closes resp's body, replacing it with an
// in-memory copy.
func bufferResponse(resp *http.Response) (*http.Response, error) {
	data, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func recordRetryEvent(span trace.Span, retry int, err error, next time.Duration) {
	if !span.IsRecording() {
		return
	}

	reason := "status"
	var status *retryableStatus
	switch {
	case errors.As(err, &status):
		reason = "status_" + strconv.Itoa(status.resp.StatusCode)
	case isTimeout(err):
		reason = "timeout"
	case isRetryableNetworkError(err):
		reason = "network_error"
	case err != nil:
		reason = "error"
	}

	span.AddEvent("apiclient.retry", trace.WithAttributes(
		attribute.Int("retry.attempt", retry),
		attribute.Int64("retry.delay_ms", next.Milliseconds()),
		attribute.String("retry.reason", reason),
	))
}
