package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator decorates an outgoing request with credentials. It is
// called once per request, before the retry policy, so every attempt
// carries the same credentials.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// AuthFunc adapts a function to the Authenticator interface.
type AuthFunc func(req *http.Request) error

func (f AuthFunc) Authenticate(req *http.Request) error { return f(req) }

// BearerAuth sets a static "Authorization: Bearer <token>" header.
func BearerAuth(token string) Authenticator {
	return AuthFunc(func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// BasicAuth sets HTTP basic credentials.
func BasicAuth(username, password string) Authenticator {
	return AuthFunc(func(req *http.Request) error {
		req.SetBasicAuth(username, password)
		return nil
	})
}

// APIKeyAuth sends key in the X-API-Key header.
func APIKeyAuth(key string) Authenticator {
	return APIKeyHeaderAuth("X-API-Key", key)
}

// APIKeyHeaderAuth sends key in the named header.
func APIKeyHeaderAuth(header, key string) Authenticator {
	return AuthFunc(func(req *http.Request) error {
		req.Header.Set(header, key)
		return nil
	})
}

// APIKeyQueryAuth sends key as the named query parameter.
func APIKeyQueryAuth(param, key string) Authenticator {
	return AuthFunc(func(req *http.Request) error {
		q := req.URL.Query()
		q.Set(param, key)
		req.URL.RawQuery = q.Encode()
		return nil
	})
}

// OAuth2Auth fetches tokens from ts and sets them on each request. The
// token source is wrapped so a valid token is reused until it expires.
func OAuth2Auth(ts oauth2.TokenSource) Authenticator {
	ts = oauth2.ReuseTokenSource(nil, ts)
	return AuthFunc(func(req *http.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("fetch oauth2 token: %w", err)
		}
		tok.SetAuthHeader(req)
		return nil
	})
}

// ClientCredentialsAuth runs the OAuth2 client-credentials flow against
// cfg.TokenURL.
func ClientCredentialsAuth(ctx context.Context, cfg clientcredentials.Config) Authenticator {
	return OAuth2Auth(cfg.TokenSource(ctx))
}

// JWTConfig configures self-signed bearer tokens.
type JWTConfig struct {
	// Method signs the token. Default: HS256.
	Method jwt.SigningMethod

	// Key is the signing key; its type must match Method ([]byte for HMAC).
	Key any

	Issuer   string
	Subject  string
	Audience []string

	// TTL is the lifetime of each token. Default: 5m.
	TTL time.Duration

	// Leeway renews the token this long before it expires. Default: 30s.
	Leeway time.Duration
}

// JWTAuth signs short-lived JWTs and sends them as bearer tokens. A token
// is reused until it is within Leeway of expiring.
type JWTAuth struct {
	cfg JWTConfig
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWTAuth validates cfg and returns a JWTAuth.
func NewJWTAuth(cfg JWTConfig) (*JWTAuth, error) {
	if cfg.Key == nil {
		return nil, validationErrorf("jwt auth: signing key is required")
	}
	if cfg.Method == nil {
		cfg.Method = jwt.SigningMethodHS256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Leeway <= 0 || cfg.Leeway >= cfg.TTL {
		cfg.Leeway = min(30*time.Second, cfg.TTL/2)
	}
	return &JWTAuth{cfg: cfg, now: time.Now}, nil
}

func (a *JWTAuth) Authenticate(req *http.Request) error {
	token, err := a.current()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *JWTAuth) current() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Add(a.cfg.Leeway).Before(a.expires) {
		return a.token, nil
	}

	expires := now.Add(a.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Issuer,
		Subject:   a.cfg.Subject,
		Audience:  a.cfg.Audience,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(a.cfg.Method, claims).SignedString(a.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	a.token, a.expires = signed, expires
	return signed, nil
}
