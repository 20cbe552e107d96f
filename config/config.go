// Package config loads client settings from a YAML or JSON file, a .env
// file and APICLIENT_* environment variables, and turns them into
// apiclient options.
//
// Precedence, highest first: environment (including values loaded from
// the .env file), config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/kroma-labs/apiclient-go/apiclient"
	"github.com/kroma-labs/apiclient-go/cache"
	"github.com/kroma-labs/apiclient-go/queue"
)

// EnvPrefix prefixes every environment variable the loader reads, e.g.
// APICLIENT_BASE_URL or APICLIENT_CACHE_ENABLED.
const EnvPrefix = "APICLIENT"

// ErrInvalid wraps every settings validation failure.
var ErrInvalid = errors.New("config: invalid settings")

// Settings is the file and environment representation of one client.
type Settings struct {
	ServiceName    string            `mapstructure:"service_name"`
	BaseURL        string            `mapstructure:"base_url" validate:"required,url"`
	Endpoint       string            `mapstructure:"endpoint"`
	Method         string            `mapstructure:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS get head post put patch delete options"`
	Timeout        time.Duration     `mapstructure:"timeout" validate:"gte=0"`
	MaxWorkers     int               `mapstructure:"max_workers" validate:"gte=0"`
	Headers        map[string]string `mapstructure:"headers"`
	UserIdentifier string            `mapstructure:"user_identifier"`
	Debug          bool              `mapstructure:"debug"`

	Retry RetrySettings `mapstructure:"retry"`
	Cache CacheSettings `mapstructure:"cache"`
	Auth  AuthSettings  `mapstructure:"auth"`
	Redis RedisSettings `mapstructure:"redis"`
	Queue QueueSettings `mapstructure:"queue"`
}

type RetrySettings struct {
	MaxRetries      uint          `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gte=0"`
}

type CacheSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backend       string        `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	DefaultExpire time.Duration `mapstructure:"default_expire"`
	MaxSize       int           `mapstructure:"max_size" validate:"gte=0"`
	UserSpecific  bool          `mapstructure:"user_specific"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// AuthSettings selects one of the static credential strategies. OAuth2
// and JWT need code, not configuration, and are wired with options.
type AuthSettings struct {
	Type     string `mapstructure:"type" validate:"omitempty,oneof=bearer basic api_key"`
	Token    string `mapstructure:"token" validate:"required_if=Type bearer,required_if=Type api_key"`
	Header   string `mapstructure:"header"`
	Username string `mapstructure:"username" validate:"required_if=Type basic"`
	Password string `mapstructure:"password"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type QueueSettings struct {
	Name          string        `mapstructure:"name"`
	ResultTimeout time.Duration `mapstructure:"result_timeout" validate:"gte=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=0"`
}

// defaults lists every key the loader knows about. Viper only consults
// the environment for keys it has seen, so each one needs a default.
var defaults = map[string]any{
	"service_name":    "",
	"base_url":        "",
	"endpoint":        "",
	"method":          "",
	"timeout":         apiclient.DefaultTransportConfig().Timeout,
	"max_workers":     apiclient.DefaultMaxWorkers,
	"user_identifier": "",
	"debug":           false,

	"retry.max_retries":      apiclient.DefaultMaxRetries,
	"retry.initial_interval": apiclient.DefaultInitialInterval,
	"retry.max_interval":     apiclient.DefaultMaxInterval,

	"cache.enabled":        false,
	"cache.backend":        "memory",
	"cache.default_expire": apiclient.DefaultCacheExpire,
	"cache.max_size":       cache.DefaultMaxSize,
	"cache.user_specific":  false,
	"cache.key_prefix":     "apiclient",

	"auth.type":     "",
	"auth.token":    "",
	"auth.header":   "",
	"auth.username": "",
	"auth.password": "",

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"queue.name":           queue.DefaultQueue,
	"queue.result_timeout": queue.DefaultResultTimeout,
	"queue.concurrency":    queue.DefaultConcurrency,
}

// LoaderConfig holds optional file locations.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
}

// LoaderOption configures Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile reads settings from a YAML or JSON file.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile loads a .env file into the environment before reading it.
// Variables already set in the process environment are kept.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// Load reads and validates settings.
func Load(opts ...LoaderOption) (*Settings, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", lc.ConfigFile, err)
		}
	}

	if lc.EnvFile != "" {
		if err := godotenv.Load(lc.EnvFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", lc.EnvFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks s and reports every failing field.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		if s.Cache.Enabled && s.Cache.Backend == "redis" && s.Redis.Addr == "" {
			return fmt.Errorf("%w: redis cache backend needs redis.addr", ErrInvalid)
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// RedisClient builds a client from the redis section, or returns nil when
// no address is configured. The caller owns the client.
func (s *Settings) RedisClient() redis.UniversalClient {
	if s.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
}

// Options converts s into client options. A Redis cache backend gets its
// own connection, which the resulting client closes on Close.
func (s *Settings) Options() ([]apiclient.Option, error) {
	opts := []apiclient.Option{
		apiclient.WithBaseURL(s.BaseURL),
		apiclient.WithHeaders(s.Headers),
		apiclient.WithDebug(s.Debug),
	}
	if s.ServiceName != "" {
		opts = append(opts, apiclient.WithServiceName(s.ServiceName))
	}
	if s.Endpoint != "" {
		opts = append(opts, apiclient.WithDefaultEndpoint(s.Endpoint))
	}
	if s.Method != "" {
		opts = append(opts, apiclient.WithDefaultMethod(s.Method))
	}
	if s.Timeout > 0 {
		opts = append(opts, apiclient.WithTimeout(s.Timeout))
	}
	if s.MaxWorkers > 0 {
		opts = append(opts, apiclient.WithMaxWorkers(s.MaxWorkers))
	}
	if s.UserIdentifier != "" {
		opts = append(opts, apiclient.WithUserIdentifier(s.UserIdentifier))
	}

	rc := apiclient.DefaultRetryConfig()
	rc.MaxRetries = s.Retry.MaxRetries
	if s.Retry.InitialInterval > 0 {
		rc.InitialInterval = s.Retry.InitialInterval
	}
	if s.Retry.MaxInterval > 0 {
		rc.MaxInterval = s.Retry.MaxInterval
	}
	opts = append(opts, apiclient.WithRetryConfig(rc))

	if opt, ok := s.AuthOption(); ok {
		opts = append(opts, opt)
	}

	if s.Cache.Enabled {
		cc := apiclient.DefaultCacheConfig()
		cc.DefaultExpire = s.Cache.DefaultExpire
		cc.MaxSize = s.Cache.MaxSize
		cc.UserSpecific = s.Cache.UserSpecific
		opts = append(opts, apiclient.WithCache(cc))

		if s.Cache.Backend == "redis" {
			rdb := s.RedisClient()
			if rdb == nil {
				return nil, fmt.Errorf("%w: redis cache backend needs redis.addr", ErrInvalid)
			}
			backend, err := cache.NewRedis[apiclient.Envelope](rdb, cache.WithKeyPrefix(s.Cache.KeyPrefix))
			if err != nil {
				return nil, err
			}
			opts = append(opts, apiclient.WithCacheBackend(apiclient.Use[apiclient.CacheBackend](backend)))
		}
	}
	return opts, nil
}

// AuthOption returns the option installing the configured credentials,
// or false when no auth type is set.
func (s *Settings) AuthOption() (apiclient.Option, bool) {
	auth := s.Auth.authenticator()
	if auth == nil {
		return nil, false
	}
	return apiclient.WithAuth(apiclient.Use(auth)), true
}

func (a AuthSettings) authenticator() apiclient.Authenticator {
	switch a.Type {
	case "bearer":
		return apiclient.BearerAuth(a.Token)
	case "basic":
		return apiclient.BasicAuth(a.Username, a.Password)
	case "api_key":
		if a.Header != "" {
			return apiclient.APIKeyHeaderAuth(a.Header, a.Token)
		}
		return apiclient.APIKeyAuth(a.Token)
	}
	return nil
}

// ExecutorConfig returns the queue producer settings.
func (s *Settings) ExecutorConfig() queue.ExecutorConfig {
	return queue.ExecutorConfig{
		Queue:         s.Queue.Name,
		ResultTimeout: s.Queue.ResultTimeout,
	}
}

// WorkerConfig returns the queue consumer settings.
func (s *Settings) WorkerConfig() queue.WorkerConfig {
	return queue.WorkerConfig{
		Queue:       s.Queue.Name,
		Concurrency: s.Queue.Concurrency,
	}
}
