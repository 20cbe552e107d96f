package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/apiclient-go/apiclient"
	"github.com/kroma-labs/apiclient-go/queue"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("given only env, then applies defaults", func(t *testing.T) {
		t.Setenv("APICLIENT_BASE_URL", "https://api.test")

		s, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://api.test", s.BaseURL)
		assert.Equal(t, 15*time.Second, s.Timeout)
		assert.Equal(t, apiclient.DefaultMaxWorkers, s.MaxWorkers)
		assert.Equal(t, uint(apiclient.DefaultMaxRetries), s.Retry.MaxRetries)
		assert.False(t, s.Cache.Enabled)
		assert.Equal(t, "memory", s.Cache.Backend)
		assert.Equal(t, queue.DefaultQueue, s.Queue.Name)
		assert.Nil(t, s.RedisClient())
	})

	t.Run("given a YAML file, then reads nested sections", func(t *testing.T) {
		path := writeFile(t, "config.yml", `
service_name: billing
base_url: https://billing.test
method: post
timeout: 5s
headers:
  X-Team: core
retry:
  max_retries: 1
  initial_interval: 50ms
cache:
  enabled: true
  default_expire: 1m
auth:
  type: bearer
  token: file-token
queue:
  name: billing:tasks
  result_timeout: 2s
`)

		s, err := Load(WithConfigFile(path))
		require.NoError(t, err)

		assert.Equal(t, "billing", s.ServiceName)
		assert.Equal(t, "post", s.Method)
		assert.Equal(t, 5*time.Second, s.Timeout)
		assert.Equal(t, "core", s.Headers["x-team"])
		assert.Equal(t, uint(1), s.Retry.MaxRetries)
		assert.Equal(t, 50*time.Millisecond, s.Retry.InitialInterval)
		assert.True(t, s.Cache.Enabled)
		assert.Equal(t, time.Minute, s.Cache.DefaultExpire)
		assert.Equal(t, "bearer", s.Auth.Type)
		assert.Equal(t, "billing:tasks", s.ExecutorConfig().Queue)
		assert.Equal(t, 2*time.Second, s.ExecutorConfig().ResultTimeout)
	})

	t.Run("given env over file, then env wins", func(t *testing.T) {
		path := writeFile(t, "config.yml", "base_url: https://file.test\ntimeout: 5s\n")
		t.Setenv("APICLIENT_TIMEOUT", "9s")
		t.Setenv("APICLIENT_CACHE_ENABLED", "true")

		s, err := Load(WithConfigFile(path))
		require.NoError(t, err)

		assert.Equal(t, "https://file.test", s.BaseURL)
		assert.Equal(t, 9*time.Second, s.Timeout)
		assert.True(t, s.Cache.Enabled)
	})

	t.Run("given a .env file, then loads it", func(t *testing.T) {
		envPath := writeFile(t, ".env", "APICLIENT_BASE_URL=https://dotenv.test\nAPICLIENT_QUEUE_CONCURRENCY=3\n")
		t.Cleanup(func() {
			_ = os.Unsetenv("APICLIENT_BASE_URL")
			_ = os.Unsetenv("APICLIENT_QUEUE_CONCURRENCY")
		})

		s, err := Load(WithEnvFile(envPath))
		require.NoError(t, err)

		assert.Equal(t, "https://dotenv.test", s.BaseURL)
		assert.Equal(t, 3, s.WorkerConfig().Concurrency)
	})

	t.Run("given missing files, then returns an error", func(t *testing.T) {
		_, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "nope.yml")))
		assert.Error(t, err)

		_, err = Load(WithEnvFile(filepath.Join(t.TempDir(), "nope.env")))
		assert.Error(t, err)
	})
}

func TestSettings_Validate(t *testing.T) {
	valid := func() Settings {
		return Settings{BaseURL: "https://api.test", Cache: CacheSettings{Backend: "memory"}}
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{name: "given valid settings, then passes", mutate: func(*Settings) {}},
		{name: "given no base URL, then fails", mutate: func(s *Settings) { s.BaseURL = "" }, wantErr: true},
		{name: "given relative base URL, then fails", mutate: func(s *Settings) { s.BaseURL = "/api" }, wantErr: true},
		{name: "given unknown method, then fails", mutate: func(s *Settings) { s.Method = "FETCH" }, wantErr: true},
		{name: "given unknown cache backend, then fails", mutate: func(s *Settings) { s.Cache.Backend = "disk" }, wantErr: true},
		{name: "given bearer auth without token, then fails", mutate: func(s *Settings) { s.Auth.Type = "bearer" }, wantErr: true},
		{name: "given basic auth without user, then fails", mutate: func(s *Settings) { s.Auth.Type = "basic" }, wantErr: true},
		{
			name: "given redis cache without address, then fails",
			mutate: func(s *Settings) {
				s.Cache.Enabled = true
				s.Cache.Backend = "redis"
			},
			wantErr: true,
		},
		{name: "given negative timeout, then fails", mutate: func(s *Settings) { s.Timeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)

			err := s.Validate()

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSettings_Options(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Clone())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	t.Run("given settings, then builds a working client", func(t *testing.T) {
		s := Settings{
			ServiceName: "billing",
			BaseURL:     srv.URL,
			Headers:     map[string]string{"x-team": "core"},
			Auth:        AuthSettings{Type: "bearer", Token: "tok"},
			Cache:       CacheSettings{Enabled: true, Backend: "memory", MaxSize: 10},
		}
		opts, err := s.Options()
		require.NoError(t, err)

		c, err := apiclient.New(opts...)
		require.NoError(t, err)
		defer c.Close()

		env, err := c.Request(context.Background(), apiclient.RequestSpec{})
		require.NoError(t, err)
		assert.True(t, env.Success)
		headers := seen.Load().(http.Header)
		assert.Equal(t, "Bearer tok", headers.Get("Authorization"))
		assert.Equal(t, "core", headers.Get("X-Team"))
		assert.True(t, c.CacheEnabled())
		assert.Equal(t, "billing", c.Snapshot().ServiceName)
	})

	t.Run("given redis cache, then stores envelopes in redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s := Settings{
			BaseURL: srv.URL,
			Cache:   CacheSettings{Enabled: true, Backend: "redis", KeyPrefix: "test", DefaultExpire: time.Minute},
			Redis:   RedisSettings{Addr: mr.Addr()},
		}
		opts, err := s.Options()
		require.NoError(t, err)

		c, err := apiclient.New(opts...)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Request(context.Background(), apiclient.RequestSpec{})
		require.NoError(t, err)

		keys := mr.Keys()
		require.Len(t, keys, 1)
		assert.Regexp(t, `^test:[0-9a-f]{32}$`, keys[0])
	})

	t.Run("given auth variants, then picks the authenticator", func(t *testing.T) {
		assert.Nil(t, AuthSettings{}.authenticator())
		assert.NotNil(t, AuthSettings{Type: "basic", Username: "u"}.authenticator())
		assert.NotNil(t, AuthSettings{Type: "api_key", Token: "k"}.authenticator())
		assert.NotNil(t, AuthSettings{Type: "api_key", Token: "k", Header: "X-Token"}.authenticator())
	})
}
