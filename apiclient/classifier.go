package apiclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// RetryClassifier decides whether a single attempt's result is worth
// retrying. Exactly one of resp and err is non-nil. Method filtering and
// attempt counting happen outside the classifier.
type RetryClassifier func(resp *http.Response, err error) bool

// StatusCodeClassifier retries transient transport errors and responses
// whose status is in codes.
func StatusCodeClassifier(codes ...int) RetryClassifier {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}

	return func(resp *http.Response, err error) bool {
		if err != nil {
			return !isPermanentError(err)
		}
		if resp == nil {
			return false
		}
		_, ok := set[resp.StatusCode]
		return ok
	}
}

// NeverRetryClassifier disables retries regardless of configuration.
func NeverRetryClassifier() RetryClassifier {
	return func(_ *http.Response, _ error) bool { return false }
}

// isTimeout reports whether err is a deadline failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryableNetworkError reports connection-level failures that usually
// clear up on their own.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if isTimeout(err) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "connection reset", "broken pipe", "server closed", "eof"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// isPermanentError reports failures that will not change on retry:
// certificate problems, unknown hosts, open breakers and local rate limits.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"x509:", "tls:", "unsupported protocol scheme"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classifyTransportError maps a failed transport call to the taxonomy.
func classifyTransportError(err error) *Error {
	if apiErr, ok := AsError(err); ok {
		return apiErr
	}
	if isTimeout(err) {
		return newTimeoutError(err)
	}
	return newNetworkError(err)
}
