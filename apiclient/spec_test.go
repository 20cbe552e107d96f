package apiclient

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		endpoint string
		want     string
	}{
		{name: "given plain parts, then joins with one slash", base: "https://api.test", endpoint: "items", want: "https://api.test/items"},
		{name: "given slashes on both sides, then keeps one", base: "https://api.test/", endpoint: "/items", want: "https://api.test/items"},
		{name: "given repeated slashes, then keeps one", base: "https://api.test//", endpoint: "///items/1", want: "https://api.test/items/1"},
		{name: "given empty endpoint, then returns base", base: "https://api.test/", endpoint: "", want: "https://api.test"},
		{name: "given base with path, then appends endpoint", base: "https://api.test/v2", endpoint: "/items", want: "https://api.test/v2/items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinURL(tt.base, tt.endpoint))
		})
	}
}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{name: "given nil params, then returns empty", params: nil, want: ""},
		{name: "given scalars, then sorts keys", params: map[string]any{"b": 2, "a": "x", "c": true}, want: "a=x&b=2&c=true"},
		{name: "given slices, then repeats keys", params: map[string]any{"id": []int{1, 2}}, want: "id=1&id=2"},
		{name: "given nil value, then omits the key", params: map[string]any{"a": nil, "b": "1"}, want: "b=1"},
		{name: "given special characters, then escapes them", params: map[string]any{"q": "a b&c"}, want: "q=a+b%26c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeQuery(tt.params))
		})
	}
}

func TestEncodeBody(t *testing.T) {
	tests := []struct {
		name            string
		spec            RequestSpec
		wantBody        string
		wantContentType string
		wantErr         assert.ErrorAssertionFunc
	}{
		{name: "given nothing, then no body", spec: RequestSpec{}, wantErr: assert.NoError},
		{name: "given JSON, then encodes it", spec: RequestSpec{JSON: map[string]int{"a": 1}}, wantBody: `{"a":1}`, wantContentType: "application/json", wantErr: assert.NoError},
		{name: "given string data, then sends it raw", spec: RequestSpec{Data: "raw"}, wantBody: "raw", wantErr: assert.NoError},
		{name: "given byte data, then sends it raw", spec: RequestSpec{Data: []byte("raw")}, wantBody: "raw", wantErr: assert.NoError},
		{name: "given reader data, then streams it", spec: RequestSpec{Data: strings.NewReader("stream")}, wantBody: "stream", wantErr: assert.NoError},
		{name: "given url.Values, then form-encodes", spec: RequestSpec{Data: url.Values{"a": {"1", "2"}}}, wantBody: "a=1&a=2", wantContentType: formContentType, wantErr: assert.NoError},
		{name: "given map data, then form-encodes", spec: RequestSpec{Data: map[string]any{"b": 2, "a": "x"}}, wantBody: "a=x&b=2", wantContentType: formContentType, wantErr: assert.NoError},
		{name: "given unsupported data, then fails", spec: RequestSpec{Data: 3.14}, wantErr: assert.Error},
		{name: "given unencodable JSON, then fails", spec: RequestSpec{JSON: make(chan int)}, wantErr: assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType, err := encodeBody(tt.spec)

			tt.wantErr(t, err)
			if err != nil {
				return
			}
			assert.Equal(t, tt.wantContentType, contentType)
			if tt.wantBody == "" {
				assert.Nil(t, body)
				return
			}
			require.NotNil(t, body)
			b, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(b))
		})
	}
}

func TestMergeHeaders(t *testing.T) {
	defaults := http.Header{}
	defaults.Set("Accept", "application/json")
	defaults.Set("X-Env", "prod")

	got := mergeHeaders(defaults, map[string]string{"x-env": "staging", "X-New": "1"})

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "staging", got.Get("X-Env"))
	assert.Equal(t, "1", got.Get("X-New"))
	assert.Equal(t, "prod", defaults.Get("X-Env"))
}

func TestSpecFromMap(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		want    RequestSpec
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name: "given known keys, then builds spec with upper-case method",
			in: map[string]any{
				"method":       "post",
				"endpoint":     "/items",
				"headers":      map[string]any{"X-A": "1"},
				"cache":        false,
				"cache_expire": 30,
			},
			want: RequestSpec{
				Method:      http.MethodPost,
				Endpoint:    "/items",
				Headers:     map[string]string{"X-A": "1"},
				Cache:       Bool(false),
				CacheExpire: Int(30),
			},
			wantErr: assert.NoError,
		},
		{
			name:    "given unknown key, then fails",
			in:      map[string]any{"url": "/items"},
			wantErr: assert.Error,
		},
		{
			name:    "given wrong value type, then fails",
			in:      map[string]any{"headers": "nope"},
			wantErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := specFromMap(tt.in)

			tt.wantErr(t, err)
			if err != nil {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
