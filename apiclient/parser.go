package apiclient

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// ParseOptions carries per-call parser input.
type ParseOptions struct {
	// Filename overrides the output name chosen by FileParser.
	Filename string
}

// Parser converts a transport response into a domain value.
//
// Streaming reports whether the parser consumes the live body. The
// executor checks it before sending the request: non-streaming responses
// are read fully into memory and the connection is released before Parse
// is called.
type Parser interface {
	Parse(resp *Response, opts ParseOptions) (any, error)
	Streaming() bool
}

// bodyRetainer is implemented by parsers whose result owns the response
// body, so the executor must not close it.
type bodyRetainer interface {
	retainsBody() bool
}

// JSONParser decodes the body into an untyped value. An empty body decodes
// to nil.
type JSONParser struct{}

func (JSONParser) Parse(resp *Response, _ ParseOptions) (any, error) {
	body, err := resp.Body()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

func (JSONParser) Streaming() bool { return false }

// BytesParser returns the raw body bytes.
type BytesParser struct{}

func (BytesParser) Parse(resp *Response, _ ParseOptions) (any, error) {
	body, err := resp.Body()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (BytesParser) Streaming() bool { return false }

// PassthroughParser returns the *Response itself with its body unread.
// The caller owns the body and must Close it.
type PassthroughParser struct{}

func (PassthroughParser) Parse(resp *Response, _ ParseOptions) (any, error) {
	return resp, nil
}

func (PassthroughParser) Streaming() bool   { return true }
func (PassthroughParser) retainsBody() bool { return true }

// File parser defaults.
const (
	DefaultChunkSize       = 8192
	DefaultDownloadDir     = "./downloads"
	DefaultDownloadName    = "downloaded_file"
	downloadDirPermissions = 0o755
)

// FileParser streams the body to a file and returns the file's path.
type FileParser struct {
	dir         string
	defaultName string
	suffix      string
	chunkSize   int
}

// FileParserOption configures a FileParser.
type FileParserOption func(*FileParser)

// WithDownloadName sets the name used when neither the call nor the URL
// provides one.
func WithDownloadName(name string) FileParserOption {
	return func(p *FileParser) { p.defaultName = name }
}

// WithFileSuffix appends suffix to every written file name.
func WithFileSuffix(suffix string) FileParserOption {
	return func(p *FileParser) { p.suffix = suffix }
}

// WithChunkSize sets the copy buffer size.
func WithChunkSize(n int) FileParserOption {
	return func(p *FileParser) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// NewFileParser creates dir if needed and returns a parser writing into it.
// An empty dir means DefaultDownloadDir.
func NewFileParser(dir string, opts ...FileParserOption) (*FileParser, error) {
	if dir == "" {
		dir = DefaultDownloadDir
	}
	p := &FileParser{
		dir:         dir,
		defaultName: DefaultDownloadName,
		chunkSize:   DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := os.MkdirAll(dir, downloadDirPermissions); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return p, nil
}

// Dir returns the directory files are written to.
func (p *FileParser) Dir() string { return p.dir }

func (p *FileParser) Streaming() bool { return true }

func (p *FileParser) Parse(resp *Response, opts ParseOptions) (any, error) {
	target := filepath.Join(p.dir, p.filename(resp, opts)+p.suffix)

	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, p.chunkSize)
	if _, err := io.CopyBuffer(f, resp.Response.Body, buf); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return target, nil
}

func (p *FileParser) filename(resp *Response, opts ParseOptions) string {
	if name := safeName(opts.Filename); name != "" {
		return name
	}
	if u := resp.FinalURL(); u != nil {
		if name := safeName(path.Base(u.Path)); name != "" {
			return name
		}
	}
	return p.defaultName
}

// safeName reduces name to a single path element.
func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "/" || name == string(filepath.Separator) {
		return ""
	}
	return name
}
