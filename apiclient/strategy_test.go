package apiclient

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedParser struct {
	BytesParser
	name string
}

func TestResolveStrategy(t *testing.T) {
	builtin := func() Parser { return namedParser{name: "builtin"} }
	safe := func() Parser { return namedParser{name: "safe"} }
	factory := func(name string) Strategy[Parser] {
		return Build(func(Config) (Parser, error) { return namedParser{name: name}, nil })
	}
	failing := Build(func(Config) (Parser, error) { return nil, errors.New("boom") })
	panicking := Build(func(Config) (Parser, error) { panic("boom") })
	nilResult := Build(func(Config) (Parser, error) { return nil, nil })

	tests := []struct {
		name    string
		option  Strategy[Parser]
		profile Strategy[Parser]
		want    string
	}{
		{
			name: "given nothing set, then uses builtin",
			want: "builtin",
		},
		{
			name:    "given profile instance only, then uses profile",
			profile: Use[Parser](namedParser{name: "profile"}),
			want:    "profile",
		},
		{
			name:    "given option and profile, then option wins",
			option:  Use[Parser](namedParser{name: "option"}),
			profile: Use[Parser](namedParser{name: "profile"}),
			want:    "option",
		},
		{
			name:    "given option factory, then uses its result",
			option:  factory("option-factory"),
			profile: Use[Parser](namedParser{name: "profile"}),
			want:    "option-factory",
		},
		{
			name:    "given profile factory, then uses its result",
			profile: factory("profile-factory"),
			want:    "profile-factory",
		},
		{
			name:    "given failing option factory, then uses safe default instead of profile",
			option:  failing,
			profile: Use[Parser](namedParser{name: "profile"}),
			want:    "safe",
		},
		{
			name:   "given panicking factory, then uses safe default",
			option: panicking,
			want:   "safe",
		},
		{
			name:    "given factory returning nil, then uses safe default",
			profile: nilResult,
			want:    "safe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStrategy("parser", tt.option, tt.profile, Config{}, builtin, safe, zerolog.Nop())

			named, ok := got.(namedParser)
			require.True(t, ok)
			assert.Equal(t, tt.want, named.name)
		})
	}
}

func TestResolveStrategy_FactoryReceivesConfig(t *testing.T) {
	var seen Config
	s := Build(func(cfg Config) (Formatter, error) {
		seen = cfg
		return DefaultFormatter{}, nil
	})

	_, err := New(
		WithBaseURL("https://api.test"),
		WithServiceName("billing"),
		WithMaxWorkers(3),
		WithFormatter(s),
	)
	require.NoError(t, err)

	assert.Equal(t, "billing", seen.ServiceName)
	assert.Equal(t, "https://api.test", seen.BaseURL)
	assert.Equal(t, 3, seen.MaxWorkers)
}

func TestProfile(t *testing.T) {
	retry := NoRetryConfig()
	profile := Profile{
		Name:       "billing",
		BaseURL:    "https://billing.test",
		Endpoint:   "/invoices",
		Headers:    map[string]string{"X-Api-Version": "2"},
		Retry:      &retry,
		MaxWorkers: 4,
		Parser:     Use[Parser](BytesParser{}),
	}

	t.Run("given profile only, then client starts from its values", func(t *testing.T) {
		transport := NewMockTransport().ReplyStatus(http.StatusOK, "raw")
		c, err := New(WithProfile(profile), WithTransport(transport))
		require.NoError(t, err)

		cfg := c.Config()
		assert.Equal(t, "billing", cfg.ServiceName)
		assert.Equal(t, "https://billing.test", cfg.BaseURL)
		assert.Equal(t, 4, cfg.MaxWorkers)
		assert.Equal(t, uint(0), cfg.Retry.MaxRetries)

		env, err := c.Request(t.Context(), RequestSpec{})
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), env.Data)

		req, _ := transport.LastRequest()
		assert.Equal(t, "https://billing.test/invoices", req.URL.String())
		assert.Equal(t, "2", req.Header.Get("X-Api-Version"))
	})

	t.Run("given options before the profile, then options still win", func(t *testing.T) {
		c, err := New(
			WithBaseURL("https://override.test"),
			WithMaxWorkers(9),
			WithParser(Use[Parser](JSONParser{})),
			WithProfile(profile),
		)
		require.NoError(t, err)

		cfg := c.Config()
		assert.Equal(t, "https://override.test", cfg.BaseURL)
		assert.Equal(t, 9, cfg.MaxWorkers)
		assert.IsType(t, JSONParser{}, c.parser)
	})
}
