package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/apiclient-go/apiclient/mocks"
)

type netError struct{ msg string }

func (e *netError) Error() string { return e.msg }

func TestBreakerConfig_Defaults(t *testing.T) {
	cfg := DefaultBreakerConfig()

	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
	assert.InEpsilon(t, 0.5, cfg.FailureRatio, 0.001)
	assert.Nil(t, cfg.Store)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	distributed := DistributedBreakerConfig(NewRedisBreakerStore(rdb))
	assert.NotNil(t, distributed.Store)
}

func TestBreakerConfig_ReadyToTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{name: "given five consecutive failures, then trips", counts: gobreaker.Counts{Requests: 5, TotalFailures: 5, ConsecutiveFailures: 5}, want: true},
		{name: "given few requests, then stays closed", counts: gobreaker.Counts{Requests: 4, TotalFailures: 2, ConsecutiveFailures: 1}, want: false},
		{name: "given half of 20 requests failing, then trips", counts: gobreaker.Counts{Requests: 20, TotalFailures: 10, ConsecutiveFailures: 1}, want: true},
		{name: "given a low failure ratio, then stays closed", counts: gobreaker.Counts{Requests: 20, TotalFailures: 3, ConsecutiveFailures: 1}, want: false},
	}

	trip := DefaultBreakerConfig().readyToTrip()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trip(tt.counts))
		})
	}
}

func TestBreakerTransport_RoundTrip(t *testing.T) {
	passThrough := func(req func() (*http.Response, error)) (*http.Response, error) {
		return req()
	}

	tests := []struct {
		name    string
		mockFn  func(*mocks.CircuitBreaker, *mocks.RoundTripper)
		wantErr error
		wantSC  int
	}{
		{
			name: "given successful execution, then returns response",
			mockFn: func(cb *mocks.CircuitBreaker, rt *mocks.RoundTripper) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(passThrough).Once()
				rt.EXPECT().RoundTrip(mock.Anything).
					Return(&http.Response{StatusCode: http.StatusOK}, nil).Once()
			},
			wantSC: http.StatusOK,
		},
		{
			name: "given open circuit, then returns ErrOpenState",
			mockFn: func(cb *mocks.CircuitBreaker, _ *mocks.RoundTripper) {
				cb.EXPECT().Execute(mock.Anything).Return(nil, gobreaker.ErrOpenState).Once()
			},
			wantErr: gobreaker.ErrOpenState,
		},
		{
			name: "given 500 counted as failure, then still returns the response",
			mockFn: func(cb *mocks.CircuitBreaker, rt *mocks.RoundTripper) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(passThrough).Once()
				rt.EXPECT().RoundTrip(mock.Anything).
					Return(&http.Response{StatusCode: http.StatusInternalServerError}, nil).Once()
			},
			wantSC: http.StatusInternalServerError,
		},
		{
			name: "given network error, then returns it",
			mockFn: func(cb *mocks.CircuitBreaker, rt *mocks.RoundTripper) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(passThrough).Once()
				rt.EXPECT().RoundTrip(mock.Anything).Return(nil, &netError{msg: "network error"}).Once()
			},
			wantErr: &netError{msg: "network error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := mocks.NewCircuitBreaker(t)
			rt := mocks.NewRoundTripper(t)
			tt.mockFn(cb, rt)

			transport := &breakerTransport{
				next:       rt,
				breaker:    cb,
				classifier: DefaultBreakerClassifier,
				name:       "test",
			}

			resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://api.test", nil))

			if tt.wantErr != nil {
				require.Error(t, err)
				var ne *netError
				if errors.As(tt.wantErr, &ne) {
					assert.Equal(t, tt.wantErr.Error(), err.Error())
				} else {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSC, resp.StatusCode)
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	t.Run("given repeated 5xx, then opens and fails fast", func(t *testing.T) {
		transport := NewMockTransport().ReplyStatus(http.StatusInternalServerError, "boom")
		bc := DefaultBreakerConfig()
		bc.ConsecutiveFailures = 3
		bc.Timeout = time.Minute

		c := newTestClient(t, transport, WithCircuitBreaker(bc))

		for i := 0; i < 3; i++ {
			env, err := c.Request(context.Background(), RequestSpec{Endpoint: "/items"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, env.Code)
		}

		env, err := c.Request(context.Background(), RequestSpec{Endpoint: "/items"})
		require.NoError(t, err)
		assert.False(t, env.Success)
		assert.Equal(t, CodeNonHTTPError, env.Code)
		assert.Contains(t, env.Message, "circuit breaker is open")
		assert.Equal(t, 3, transport.Calls())
	})
}
