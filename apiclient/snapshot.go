package apiclient

import (
	"time"

	json "github.com/goccy/go-json"
)

// Snapshot is the by-value part of a client's configuration. It crosses
// process boundaries (see the queue package); live state such as pooled
// connections, credentials and caches never does, and each worker
// rebuilds its own from local options.
type Snapshot struct {
	ServiceName string            `json:"service_name,omitempty"`
	BaseURL     string            `json:"base_url"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Params      map[string]any    `json:"params,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Retry       RetryConfig       `json:"retry"`
	UserID      string            `json:"user_identifier,omitempty"`
}

// Snapshot implements Runner.
func (c *Client) Snapshot() Snapshot {
	cfg := c.cfg
	headers := make(map[string]string, len(cfg.headers))
	for k, v := range cfg.headers {
		headers[k] = v
	}
	return Snapshot{
		ServiceName: cfg.serviceName,
		BaseURL:     cfg.baseURL,
		Endpoint:    cfg.endpoint,
		Method:      cfg.method,
		Headers:     headers,
		Params:      cfg.params,
		Timeout:     cfg.transport.Timeout,
		Retry:       cfg.retry,
		UserID:      cfg.userID,
	}
}

// Options converts s back into client options. Options appended after
// these (credentials, parser, logger) complete the rebuilt client.
func (s Snapshot) Options() []Option {
	opts := []Option{
		WithBaseURL(s.BaseURL),
		WithHeaders(s.Headers),
		WithRetryConfig(s.Retry),
	}
	if s.ServiceName != "" {
		opts = append(opts, WithServiceName(s.ServiceName))
	}
	if s.Endpoint != "" {
		opts = append(opts, WithDefaultEndpoint(s.Endpoint))
	}
	if s.Method != "" {
		opts = append(opts, WithDefaultMethod(s.Method))
	}
	if len(s.Params) > 0 {
		opts = append(opts, WithDefaultParams(s.Params))
	}
	if s.Timeout > 0 {
		opts = append(opts, WithTimeout(s.Timeout))
	}
	if s.UserID != "" {
		opts = append(opts, WithUserIdentifier(s.UserID))
	}
	return opts
}

// Fingerprint identifies snapshots that would build identical clients.
func (s Snapshot) Fingerprint() string {
	b, err := json.Marshal(s)
	if err != nil {
		return s.BaseURL
	}
	return string(b)
}
