package apiclient

import (
	"io"
	"net/http"
	"net/url"
)

// Response wraps the transport response handed to parsers.
//
// For non-streaming parsers the body has already been read into memory
// and Body returns the cached bytes. Streaming parsers read from the
// embedded http.Response.Body directly.
type Response struct {
	*http.Response

	body     []byte
	bodyRead bool
}

func newResponse(resp *http.Response) *Response {
	return &Response{Response: resp}
}

// Body reads and caches the response body, closing the underlying reader.
func (r *Response) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}

	defer r.Response.Body.Close()
	body, err := io.ReadAll(r.Response.Body)
	if err != nil {
		return nil, err
	}

	r.body = body
	r.bodyRead = true
	return r.body, nil
}

// String returns the body as a string.
func (r *Response) String() (string, error) {
	body, err := r.Body()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Close releases the body if it has not been consumed yet.
func (r *Response) Close() error {
	if r.bodyRead || r.Response.Body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, r.Response.Body)
	return r.Response.Body.Close()
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// FinalURL is the URL of the request that produced this response, after
// redirects.
func (r *Response) FinalURL() *url.URL {
	if r.Request == nil {
		return nil
	}
	return r.Request.URL
}
