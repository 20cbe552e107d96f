package apiclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResponse(t *testing.T, rawURL, body string) *Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return newResponse(&http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    &http.Request{URL: u},
	})
}

func TestJSONParser_Parse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:    "given object, then decodes into map",
			body:    `{"id":1,"tags":["a"]}`,
			want:    map[string]any{"id": float64(1), "tags": []any{"a"}},
			wantErr: assert.NoError,
		},
		{
			name:    "given array, then decodes into slice",
			body:    `[1,2]`,
			want:    []any{float64(1), float64(2)},
			wantErr: assert.NoError,
		},
		{
			name:    "given empty body, then returns nil",
			body:    "",
			want:    nil,
			wantErr: assert.NoError,
		},
		{
			name:    "given malformed body, then returns error",
			body:    `{"id":`,
			want:    nil,
			wantErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONParser{}.Parse(newTestResponse(t, "https://api.test/x", tt.body), ParseOptions{})

			tt.wantErr(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBytesParser_Parse(t *testing.T) {
	got, err := BytesParser{}.Parse(newTestResponse(t, "https://api.test/x", "\x00\x01raw"), ParseOptions{})

	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x01raw"), got)
	assert.False(t, BytesParser{}.Streaming())
}

func TestPassthroughParser_Parse(t *testing.T) {
	resp := newTestResponse(t, "https://api.test/x", "stream")

	got, err := PassthroughParser{}.Parse(resp, ParseOptions{})
	require.NoError(t, err)

	out, ok := got.(*Response)
	require.True(t, ok)
	assert.True(t, PassthroughParser{}.Streaming())

	body, err := io.ReadAll(out.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, "stream", string(body))
}

func TestFileParser_Parse(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		opts     ParseOptions
		parser   []FileParserOption
		wantName string
	}{
		{
			name:     "given explicit filename, then writes to it",
			url:      "https://api.test/files/report.csv",
			opts:     ParseOptions{Filename: "custom.csv"},
			wantName: "custom.csv",
		},
		{
			name:     "given no filename, then uses the last URL segment",
			url:      "https://api.test/files/report.csv",
			wantName: "report.csv",
		},
		{
			name:     "given URL without a segment, then uses the default name",
			url:      "https://api.test/",
			wantName: DefaultDownloadName,
		},
		{
			name:     "given filename with directories, then keeps only the base name",
			url:      "https://api.test/x",
			opts:     ParseOptions{Filename: "../../etc/passwd"},
			wantName: "passwd",
		},
		{
			name:     "given suffix, then appends it",
			url:      "https://api.test/files/report",
			parser:   []FileParserOption{WithFileSuffix(".part"), WithChunkSize(3)},
			wantName: "report.part",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "downloads")
			p, err := NewFileParser(dir, tt.parser...)
			require.NoError(t, err)
			assert.True(t, p.Streaming())
			assert.DirExists(t, dir)

			got, err := p.Parse(newTestResponse(t, tt.url, "file-content"), tt.opts)
			require.NoError(t, err)

			path, ok := got.(string)
			require.True(t, ok)
			assert.Equal(t, filepath.Join(dir, tt.wantName), path)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "file-content", string(data))
		})
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "given plain name, then keeps it", in: "report.csv", want: "report.csv"},
		{name: "given nested path, then keeps the base name", in: "a/b/report.csv", want: "report.csv"},
		{name: "given surrounding spaces, then trims them", in: "  report.csv ", want: "report.csv"},
		{name: "given root, then returns empty", in: "/", want: ""},
		{name: "given dot, then returns empty", in: ".", want: ""},
		{name: "given parent dir, then returns empty", in: "..", want: ""},
		{name: "given trailing parent dir, then returns empty", in: "files/..", want: ""},
		{name: "given empty name, then returns empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeName(tt.in))
		})
	}
}

func TestClient_Request_FileDownload(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileParser(dir)
	require.NoError(t, err)

	transport := NewMockTransport().ReplyStatus(http.StatusOK, "chunked payload")
	c := newTestClient(t, transport, WithParser(Use[Parser](p)))

	env, err := c.Request(t.Context(), RequestSpec{Endpoint: "/exports/data.bin", Filename: "out.bin"})
	require.NoError(t, err)
	require.True(t, env.Success, env.Message)
	assert.Equal(t, filepath.Join(dir, "out.bin"), env.Data)

	data, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "chunked payload", string(data))
}
