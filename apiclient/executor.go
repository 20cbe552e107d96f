package apiclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// target is a spec resolved against the client defaults.
type target struct {
	method string
	url    string
	params map[string]any
}

func (c *core) resolve(spec RequestSpec) target {
	method := spec.Method
	if method == "" {
		method = c.cfg.method
	}
	endpoint := spec.Endpoint
	if endpoint == "" {
		endpoint = c.cfg.endpoint
	}
	return target{
		method: method,
		url:    joinURL(c.cfg.baseURL, endpoint),
		params: mergeParams(c.cfg.params, spec.Params),
	}
}

func (t target) fullURL() string {
	q := encodeQuery(t.params)
	if q == "" {
		return t.url
	}
	if strings.Contains(t.url, "?") {
		return t.url + "&" + q
	}
	return t.url + "?" + q
}

// execute runs one request through transport, parser and formatter. It
// never panics and never returns an error: every failure is folded into
// the envelope.
func (c *core) execute(ctx context.Context, requestID string, spec RequestSpec) Envelope {
	start := time.Now()
	t := c.resolve(spec)
	url := t.fullURL()

	attrs := append(c.cfg.baseAttributes(), attribute.String("http.request.method", t.method))
	ctx, span := c.cfg.tracer.Start(ctx, "apiclient.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("apiclient.request_id", requestID),
			attribute.String("http.request.method", t.method),
			attribute.String("url.full", url),
		),
	)
	defer span.End()

	logger := c.logger.With().
		Str("request_id", requestID).
		Str("method", t.method).
		Str("url", url).
		Logger()

	out := c.send(ctx, t.method, url, spec, logger)
	env, kind := c.format(out, spec, logger)

	if out.Response != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", out.Response.StatusCode))
	}
	elapsed := time.Since(start)
	c.cfg.metrics.recordRequest(ctx, elapsed, env, attrs)

	if env.Success {
		logger.Debug().
			Int("code", env.Code).
			Dur("duration", elapsed).
			Msg("request succeeded")
		return env
	}

	span.SetStatus(codes.Error, env.Message)
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	c.cfg.metrics.recordError(ctx, kind, attrs)
	logger.Warn().
		Int("code", env.Code).
		Str("kind", kind.String()).
		Dur("duration", elapsed).
		Msg(env.Message)
	return env
}

// send performs the transport call and the parse step.
func (c *core) send(ctx context.Context, method, url string, spec RequestSpec, logger zerolog.Logger) Outcome {
	body, contentType, err := encodeBody(spec)
	if err != nil {
		return Outcome{Err: &Error{Kind: KindUnexpected, Message: err.Error(), Err: err}}
	}

	var debugBody []byte
	if c.cfg.debug && body != nil {
		if debugBody, err = io.ReadAll(body); err != nil {
			return Outcome{Err: &Error{Kind: KindUnexpected, Message: "read request body: " + err.Error(), Err: err}}
		}
		body = bytes.NewReader(debugBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Outcome{Err: &Error{Kind: KindUnexpected, Message: "build request: " + err.Error(), Err: err}}
	}
	req.Header = mergeHeaders(c.defaultHeaders(), spec.Headers)
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return Outcome{Err: &Error{Kind: KindUnexpected, Message: "authenticate: " + err.Error(), Err: err}}
		}
	}

	if c.cfg.debug {
		logger.Debug().Str("curl", curlCommand(req, debugBody)).Msg("sending request")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Err: classifyTransportError(err)}
	}
	resp := newResponse(httpResp)

	if !c.parser.Streaming() {
		if _, err := resp.Body(); err != nil {
			return Outcome{Err: classifyTransportError(err)}
		}
	}

	if !resp.IsSuccess() {
		_ = resp.Close()
		return Outcome{
			Response: resp,
			Err:      newHTTPStatusError(resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	parsed, err := c.parse(resp, spec)
	if retainer, ok := c.parser.(bodyRetainer); !ok || !retainer.retainsBody() || err != nil {
		_ = resp.Close()
	}
	if err != nil {
		return Outcome{Response: resp, ParseErr: newParseError(resp.StatusCode, err)}
	}
	return Outcome{Response: resp, Parsed: parsed}
}

func (c *core) defaultHeaders() http.Header {
	h := make(http.Header, len(c.cfg.headers))
	for k, v := range c.cfg.headers {
		h.Set(k, v)
	}
	return h
}

// parse runs the parser, converting a panic into a parse error.
func (c *core) parse(resp *Response, spec RequestSpec) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, newUnexpectedError(r)
		}
	}()
	return c.parser.Parse(resp, ParseOptions{Filename: spec.Filename})
}

// format runs the formatter. A formatter that fails or panics yields the
// fixed formatting-error envelope.
func (c *core) format(out Outcome, spec RequestSpec, logger zerolog.Logger) (env Envelope, kind Kind) {
	defer func() {
		if r := recover(); r != nil {
			err := newUnexpectedError(r)
			logger.Error().Err(err).Msg("formatter panicked")
			env, kind = formattingFallback(err.Error()), KindFormatting
		}
	}()

	env, err := c.formatter.Format(out, spec)
	if err != nil {
		logger.Error().Err(err).Msg("formatter failed")
		return formattingFallback(err.Error()), KindFormatting
	}
	return env, outcomeKind(out)
}

func outcomeKind(out Outcome) Kind {
	switch {
	case out.Err != nil:
		if apiErr, ok := AsError(out.Err); ok {
			return apiErr.Kind
		}
		return KindUnexpected
	case out.ParseErr != nil:
		return KindParse
	default:
		return KindUnexpected
	}
}
