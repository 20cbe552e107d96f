package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func TestAuthenticators(t *testing.T) {
	tests := []struct {
		name   string
		auth   Authenticator
		assert func(t *testing.T, req *http.Request)
	}{
		{
			name: "given bearer auth, then sets the Authorization header",
			auth: BearerAuth("tok"),
			assert: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			},
		},
		{
			name: "given basic auth, then sets basic credentials",
			auth: BasicAuth("ann", "secret"),
			assert: func(t *testing.T, req *http.Request) {
				user, pass, ok := req.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "ann", user)
				assert.Equal(t, "secret", pass)
			},
		},
		{
			name: "given API key auth, then sets X-API-Key",
			auth: APIKeyAuth("k-1"),
			assert: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k-1", req.Header.Get("X-API-Key"))
			},
		},
		{
			name: "given API key in a custom header, then sets that header",
			auth: APIKeyHeaderAuth("X-Token", "k-2"),
			assert: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k-2", req.Header.Get("X-Token"))
			},
		},
		{
			name: "given API key in the query, then keeps existing params",
			auth: APIKeyQueryAuth("api_key", "k-3"),
			assert: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k-3", req.URL.Query().Get("api_key"))
				assert.Equal(t, "1", req.URL.Query().Get("page"))
			},
		},
		{
			name: "given static oauth2 token, then sets bearer header",
			auth: OAuth2Auth(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "oa", TokenType: "Bearer"})),
			assert: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "Bearer oa", req.Header.Get("Authorization"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport().ReplyStatus(http.StatusOK, `{}`)
			c := newTestClient(t, transport, WithAuth(Use(tt.auth)))

			env, err := c.Request(context.Background(), RequestSpec{
				Endpoint: "/items",
				Params:   map[string]any{"page": 1},
			})
			require.NoError(t, err)
			require.True(t, env.Success)

			req, _ := transport.LastRequest()
			tt.assert(t, req)
		})
	}
}

func TestAuthenticator_Failure(t *testing.T) {
	transport := NewMockTransport().ReplyStatus(http.StatusOK, `{}`)
	failing := AuthFunc(func(*http.Request) error { return errors.New("vault sealed") })
	c := newTestClient(t, transport, WithAuth(Use[Authenticator](failing)))

	env, err := c.Request(context.Background(), RequestSpec{})

	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, CodeNonHTTPError, env.Code)
	assert.Contains(t, env.Message, "vault sealed")
	assert.Zero(t, transport.Calls())
}

func TestClientCredentialsAuth(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	auth := ClientCredentialsAuth(context.Background(), clientcredentials.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "https://api.test", nil)
		require.NoError(t, auth.Authenticate(req))
		assert.Equal(t, "Bearer cc-token", req.Header.Get("Authorization"))
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestJWTAuth(t *testing.T) {
	key := []byte("signing-key")

	t.Run("given missing key, then returns validation error", func(t *testing.T) {
		_, err := NewJWTAuth(JWTConfig{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("given valid config, then signs verifiable tokens", func(t *testing.T) {
		auth, err := NewJWTAuth(JWTConfig{Key: key, Issuer: "apiclient", Subject: "svc", TTL: time.Minute})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "https://api.test", nil)
		require.NoError(t, auth.Authenticate(req))

		raw := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil })
		require.NoError(t, err)
		assert.True(t, parsed.Valid)
		assert.Equal(t, "apiclient", claims.Issuer)
		assert.Equal(t, "svc", claims.Subject)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("given token far from expiry, then reuses it", func(t *testing.T) {
		auth, err := NewJWTAuth(JWTConfig{Key: key, TTL: time.Minute, Leeway: 10 * time.Second})
		require.NoError(t, err)

		now := time.Now()
		auth.now = func() time.Time { return now }
		first, err := auth.current()
		require.NoError(t, err)

		auth.now = func() time.Time { return now.Add(30 * time.Second) }
		second, err := auth.current()
		require.NoError(t, err)
		assert.Equal(t, first, second)

		auth.now = func() time.Time { return now.Add(55 * time.Second) }
		third, err := auth.current()
		require.NoError(t, err)
		assert.NotEqual(t, first, third)
	})
}
