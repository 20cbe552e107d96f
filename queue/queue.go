// Package queue runs batch requests on remote workers over Redis lists.
//
// An Executor pushes one Task per spec onto a shared task list and waits
// for Results on a reply list private to the batch. Workers pop tasks,
// rebuild a client from the task's Snapshot plus their own local options,
// run the request and push a Result back. Results carry their batch index,
// so the executor reassembles them in input order no matter which worker
// finished first.
package queue

import (
	"errors"
	"time"

	"github.com/kroma-labs/apiclient-go/apiclient"
)

const (
	// DefaultQueue is the Redis list tasks are pushed to.
	DefaultQueue = "apiclient:tasks"

	// DefaultResultTimeout bounds how long an executor waits for a batch.
	DefaultResultTimeout = 30 * time.Second

	// DefaultResultTTL is the lifetime of an unread reply list.
	DefaultResultTTL = 5 * time.Minute

	// DefaultConcurrency is the number of tasks one worker runs at once.
	DefaultConcurrency = 10

	// pollInterval is the longest single blocking pop. Redis takes blocking
	// timeouts in whole seconds.
	pollInterval = time.Second
)

var (
	// ErrResultTimeout marks batch slots whose result did not arrive in time.
	ErrResultTimeout = errors.New("queue: result timeout")

	// ErrNilClient is returned when an executor or worker is built without
	// a Redis client.
	ErrNilClient = errors.New("queue: redis client is nil")
)

// Task is one batch item on the wire.
type Task struct {
	BatchID   string                `json:"batch_id"`
	Index     int                   `json:"index"`
	RequestID string                `json:"request_id"`
	ReplyTo   string                `json:"reply_to"`
	Snapshot  apiclient.Snapshot    `json:"snapshot"`
	Spec      apiclient.RequestSpec `json:"spec"`
}

// Result is the tagged outcome of one Task: exactly one of Envelope and
// Error is set, and OK says which.
type Result struct {
	Index    int                 `json:"index"`
	OK       bool                `json:"ok"`
	Envelope *apiclient.Envelope `json:"envelope,omitempty"`
	Error    *TaskError          `json:"error,omitempty"`
}

// TaskError is a failure that happened on the worker outside the request
// itself, such as a client that could not be built from the snapshot.
type TaskError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

func newTaskError(err error) *TaskError {
	if apiErr, ok := apiclient.AsError(err); ok {
		return &TaskError{Kind: apiErr.Kind.String(), Message: apiErr.Error(), StatusCode: apiErr.StatusCode}
	}
	return &TaskError{Kind: apiclient.KindUnexpected.String(), Message: err.Error()}
}

// Err rebuilds the typed error on the executor's side.
func (e *TaskError) Err() *apiclient.Error {
	return &apiclient.Error{
		Kind:       apiclient.ParseKind(e.Kind),
		StatusCode: e.StatusCode,
		Message:    e.Message,
	}
}

// envelope renders r for the caller of the batch.
func (r Result) envelope() apiclient.Envelope {
	if r.OK && r.Envelope != nil {
		return *r.Envelope
	}
	if r.Error == nil {
		return failed(apiclient.CodeNonHTTPError, "queue: malformed result")
	}
	code := apiclient.CodeNonHTTPError
	if r.Error.StatusCode > 0 {
		code = r.Error.StatusCode
	}
	return failed(code, r.Error.Message)
}

func failed(code int, msg string) apiclient.Envelope {
	return apiclient.Envelope{Success: false, Code: code, Message: msg}
}

func replyKey(queue, batchID string) string {
	return queue + ":results:" + batchID
}
