package apiclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// MockTransport is an http.RoundTripper that answers from canned
// replies, for tests of code built on Client. Install it with
// WithTransport; retry, breaker and rate limiting still run on top.
//
// Replies registered with Reply are returned in order and the last one
// repeats. Route replies take precedence for matching requests.
type MockTransport struct {
	mu       sync.Mutex
	routes   []mockRoute
	replies  []MockReply
	next     int
	requests []*http.Request
	bodies   [][]byte
}

// MockReply is one canned answer. When Err is set the transport fails
// with it and the other fields are ignored.
type MockReply struct {
	Status  int
	Body    string
	Headers map[string]string
	Delay   time.Duration
	Err     error
}

type mockRoute struct {
	method string
	path   string
	reply  MockReply
}

// NewMockTransport returns a transport with no replies. Requests to it
// fail until one is registered.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Reply appends replies to the sequence.
func (m *MockTransport) Reply(replies ...MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
	return m
}

// ReplyStatus appends a reply with status and body.
func (m *MockTransport) ReplyStatus(status int, body string) *MockTransport {
	return m.Reply(MockReply{Status: status, Body: body})
}

// ReplyError appends a failing reply.
func (m *MockTransport) ReplyError(err error) *MockTransport {
	return m.Reply(MockReply{Err: err})
}

// Route answers requests with method and URL path with reply. An empty
// method matches any method.
func (m *MockTransport) Route(method, path string, reply MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, mockRoute{method: method, path: path, reply: reply})
	return m
}

// Calls returns the number of requests received.
func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the requests received, in arrival order.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request and its body.
func (m *MockTransport) LastRequest() (*http.Request, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil, nil
	}
	i := len(m.requests) - 1
	return m.requests[i], m.bodies[i]
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	reply, err := m.pick(req, body)
	if err != nil {
		return nil, err
	}

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	resp := &http.Response{
		StatusCode:    reply.Status,
		Status:        http.StatusText(reply.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewBufferString(reply.Body)),
		ContentLength: int64(len(reply.Body)),
		Request:       req,
	}
	for k, v := range reply.Headers {
		resp.Header.Set(k, v)
	}
	return resp, nil
}

func (m *MockTransport) pick(req *http.Request, body []byte) (MockReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	for _, r := range m.routes {
		if (r.method == "" || r.method == req.Method) && r.path == req.URL.Path {
			return r.reply, nil
		}
	}
	if len(m.replies) == 0 {
		return MockReply{}, errors.New("mock transport: no reply for " + req.Method + " " + req.URL.String())
	}

	reply := m.replies[min(m.next, len(m.replies)-1)]
	m.next++
	return reply, nil
}
