package apiclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// =============================================================================
// TransportConfig - connection pool and timeouts
// =============================================================================

// TransportConfig holds the connection settings of the client's pooled
// transport. Use DefaultTransportConfig() and adjust individual fields.
//
// Example:
//
//	tc := apiclient.DefaultTransportConfig()
//	tc.Timeout = 5 * time.Second
//	tc.MaxIdleConnsPerHost = 50
//
//	client, err := apiclient.New(
//	    apiclient.WithBaseURL("https://api.example.com"),
//	    apiclient.WithTransportConfig(tc),
//	)
type TransportConfig struct {
	// =======================================================================
	// Request Timeout
	// =======================================================================

	// Timeout bounds each transport call, from dialing until the response
	// body is closed. Every retry attempt gets a fresh Timeout; the waits
	// between attempts are not counted.
	//
	// Zero means no timeout.
	//
	// Default: 15s
	Timeout time.Duration

	// =======================================================================
	// Connection Pool
	// =======================================================================

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host. Batch calls to a
	// single upstream benefit from keeping this close to the worker count.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps all connections (idle and active) per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// =======================================================================
	// Handshake and Dial
	// =======================================================================

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero defers to Timeout.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// ExpectContinueTimeout is the wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// =======================================================================
	// Protocol
	// =======================================================================

	// DisableCompression stops the transport from requesting gzip.
	//
	// Default: false
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 even with a custom dialer or TLS config.
	//
	// Default: true
	ForceHTTP2 bool

	// TLSConfig overrides the TLS client configuration.
	TLSConfig *tls.Config
}

// DefaultTransportConfig returns balanced settings for typical API traffic.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout: 5 * time.Second,
		KeepAlive:   30 * time.Second,

		ForceHTTP2: true,
	}
}

// HighThroughputTransportConfig keeps many more connections warm, for
// large concurrent batches against the same upstream.
func HighThroughputTransportConfig() TransportConfig {
	tc := DefaultTransportConfig()
	tc.Timeout = 30 * time.Second
	tc.MaxIdleConns = 500
	tc.MaxIdleConnsPerHost = 100
	tc.MaxConnsPerHost = 0
	tc.IdleConnTimeout = 120 * time.Second
	return tc
}

// LowLatencyTransportConfig fails fast on slow upstreams.
func LowLatencyTransportConfig() TransportConfig {
	tc := DefaultTransportConfig()
	tc.Timeout = 5 * time.Second
	tc.MaxIdleConns = 50
	tc.MaxIdleConnsPerHost = 25
	tc.MaxConnsPerHost = 50
	tc.IdleConnTimeout = 60 * time.Second
	tc.TLSHandshakeTimeout = 5 * time.Second
	tc.ResponseHeaderTimeout = 3 * time.Second
	tc.DialTimeout = 2 * time.Second
	return tc
}

// buildTransport creates the pooled http.Transport owned by one client.
func (tc TransportConfig) buildTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   tc.DialTimeout,
		KeepAlive: tc.KeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          tc.MaxIdleConns,
		MaxIdleConnsPerHost:   tc.MaxIdleConnsPerHost,
		MaxConnsPerHost:       tc.MaxConnsPerHost,
		IdleConnTimeout:       tc.IdleConnTimeout,
		TLSHandshakeTimeout:   tc.TLSHandshakeTimeout,
		ResponseHeaderTimeout: tc.ResponseHeaderTimeout,
		ExpectContinueTimeout: tc.ExpectContinueTimeout,
		DisableCompression:    tc.DisableCompression,
		ForceAttemptHTTP2:     tc.ForceHTTP2,
		TLSClientConfig:       tc.TLSConfig,
	}
}
