package apiclient

import (
	"errors"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

// errCountedFailure marks a response that the breaker must count as a
// failure even though the transport call itself succeeded.
var errCountedFailure = errors.New("apiclient: response counted as breaker failure")

type breakerExecutor interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

type breakerTransport struct {
	next       http.RoundTripper
	breaker    breakerExecutor
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

func newBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.breaker == nil {
		return next
	}
	bc := *cfg.breaker
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.serviceName
	if name == "" {
		name = cfg.baseURL
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip(),
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb breakerExecutor = gobreaker.NewCircuitBreaker[*http.Response](settings)
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, settings)
		if err != nil {
			cfg.logger.Warn().Err(err).Str("breaker", name).Msg("distributed breaker unavailable, using local state")
		} else {
			cb = dcb
		}
	}

	return &breakerTransport{
		next:       next,
		breaker:    cb,
		classifier: bc.Classifier,
		metrics:    cfg.metrics,
		name:       name,
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var counted *http.Response
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return nil, err
			}
			counted = resp
			return nil, errCountedFailure
		}
		return resp, err
	})

	switch {
	case err == nil:
		t.metrics.recordBreakerRequest(ctx, t.name, "success")
		return resp, nil
	case errors.Is(err, errCountedFailure):
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		return counted, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.metrics.recordBreakerRequest(ctx, t.name, "rejected")
		return nil, err
	default:
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		return nil, err
	}
}
