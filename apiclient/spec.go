package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// RequestSpec describes one HTTP call. Zero values defer to the client's
// defaults.
//
// Data is the raw request body: a string or []byte is sent as-is, a
// map[string]any, map[string]string or url.Values is form-encoded, and an
// io.Reader is streamed. JSON is encoded with go-json and sent as
// application/json. Only one of Data and JSON may be set.
type RequestSpec struct {
	Method   string            `json:"method,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Params   map[string]any    `json:"params,omitempty"`
	Data     any               `json:"data,omitempty"`
	JSON     any               `json:"json,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`

	// Filename overrides the output file name for FileParser.
	Filename string `json:"filename,omitempty"`

	// Cache set to false skips the cache for this call.
	Cache *bool `json:"cache,omitempty"`

	// CacheExpire is the per-call cache lifetime in seconds. Zero stores
	// the entry without expiry.
	CacheExpire *int `json:"cache_expire,omitempty"`
}

// Bool returns a pointer to b, for RequestSpec.Cache.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for RequestSpec.CacheExpire.
func Int(n int) *int { return &n }

// Validate reports malformed specs as a validation *Error.
func (s RequestSpec) Validate() error {
	if s.Method != "" && !validMethod(s.Method) {
		return validationErrorf("invalid method %q", s.Method)
	}
	if s.Data != nil && s.JSON != nil {
		return validationErrorf("data and json are mutually exclusive")
	}
	if !supportedData(s.Data) {
		return validationErrorf("unsupported data type %T", s.Data)
	}
	if s.CacheExpire != nil && *s.CacheExpire < 0 {
		return validationErrorf("cache_expire must not be negative, got %d", *s.CacheExpire)
	}
	return nil
}

func supportedData(d any) bool {
	switch d.(type) {
	case nil, string, []byte, io.Reader, url.Values, map[string]string, map[string]any:
		return true
	}
	return false
}

// cacheDisabled reports whether the caller opted this spec out of caching.
func (s RequestSpec) cacheDisabled() bool {
	return s.Cache != nil && !*s.Cache
}

var knownMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodTrace,
}

func validMethod(m string) bool {
	return slices.Contains(knownMethods, m)
}

// normalized returns s with its method upper-cased.
func (s RequestSpec) normalized() RequestSpec {
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	return s
}

// specFromMap converts the map form of a request (as decoded from JSON or
// built by hand) into a RequestSpec. Unknown keys are rejected.
func specFromMap(m map[string]any) (RequestSpec, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return RequestSpec{}, validationErrorf("invalid request: %v", err)
	}

	var spec RequestSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return RequestSpec{}, validationErrorf("invalid request: %v", err)
	}
	return spec.normalized(), nil
}

// joinURL joins base and endpoint with exactly one separating slash.
func joinURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}

// encodeQuery renders params as a query string. Slice values expand into
// repeated keys; keys are sorted.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		for _, s := range queryValues(v) {
			values.Add(k, s)
		}
	}
	return values.Encode()
}

func queryValues(v any) []string {
	switch tv := v.(type) {
	case nil:
		return nil
	case string:
		return []string{tv}
	case []string:
		return tv
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, fmt.Sprint(rv.Index(i).Interface()))
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}

// encodeBody turns the spec's payload into a request body and its content
// type. A nil reader means no body.
func encodeBody(spec RequestSpec) (io.Reader, string, error) {
	if spec.JSON != nil {
		b, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}

	switch d := spec.Data.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(d), "", nil
	case []byte:
		return bytes.NewReader(d), "", nil
	case io.Reader:
		return d, "", nil
	case url.Values:
		return strings.NewReader(d.Encode()), formContentType, nil
	case map[string]string:
		values := url.Values{}
		for k, v := range d {
			values.Set(k, v)
		}
		return strings.NewReader(values.Encode()), formContentType, nil
	case map[string]any:
		return strings.NewReader(encodeQuery(d)), formContentType, nil
	default:
		return nil, "", fmt.Errorf("unsupported data type %T", spec.Data)
	}
}

const formContentType = "application/x-www-form-urlencoded"

// mergeHeaders layers per-call headers over the client defaults.
func mergeHeaders(defaults http.Header, call map[string]string) http.Header {
	h := defaults.Clone()
	if h == nil {
		h = make(http.Header)
	}
	keys := make([]string, 0, len(call))
	for k := range call {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, call[k])
	}
	return h
}

// mergeParams layers per-call query params over the client defaults.
func mergeParams(defaults, call map[string]any) map[string]any {
	if len(defaults) == 0 {
		return call
	}
	out := make(map[string]any, len(defaults)+len(call))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range call {
		out[k] = v
	}
	return out
}
