package apiclient

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category in the client's error taxonomy.
type Kind uint8

const (
	// KindUnexpected is used for failures that fit no other category,
	// such as a batch task that panicked.
	KindUnexpected Kind = iota

	// KindValidation marks malformed input to the client. It is the only
	// kind returned to callers as an error.
	KindValidation

	// KindTimeout marks a transport call that exceeded its deadline.
	KindTimeout

	// KindHTTPStatus marks a response with a 4xx or 5xx status.
	KindHTTPStatus

	// KindNetwork marks a connection-level failure.
	KindNetwork

	// KindParse marks a response the parser could not interpret.
	KindParse

	// KindFormatting marks a formatter failure.
	KindFormatting
)

var kindNames = map[Kind]string{
	KindUnexpected: "unexpected",
	KindValidation: "validation",
	KindTimeout:    "timeout",
	KindHTTPStatus: "http_status",
	KindNetwork:    "network",
	KindParse:      "parse",
	KindFormatting: "formatting",
}

// String returns the stable tag used when an error crosses a process boundary.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unexpected"
}

// ParseKind is the inverse of Kind.String. Unknown tags map to KindUnexpected.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnexpected
}

// Sentinel errors for use with errors.Is.
var (
	ErrValidation = errors.New("apiclient: validation error")
	ErrTimeout    = errors.New("apiclient: timeout")
	ErrHTTPStatus = errors.New("apiclient: http status error")
	ErrNetwork    = errors.New("apiclient: network error")
	ErrParse      = errors.New("apiclient: parse error")
	ErrFormatting = errors.New("apiclient: formatting error")
	ErrUnexpected = errors.New("apiclient: unexpected error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindTimeout:
		return ErrTimeout
	case KindHTTPStatus:
		return ErrHTTPStatus
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindFormatting:
		return ErrFormatting
	default:
		return ErrUnexpected
	}
}

// Error is the single concrete error type produced by the client.
//
// Every failure observed while executing a request is converted into an
// *Error and then into an Envelope. StatusCode is set only for
// KindHTTPStatus and KindParse, where a response was actually received.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func newTimeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out: " + err.Error(), Err: err}
}

func newNetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network error: " + err.Error(), Err: err}
}

func newHTTPStatusError(status int, text string) *Error {
	msg := fmt.Sprintf("HTTP %d", status)
	if text != "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, text)
	}
	return &Error{Kind: KindHTTPStatus, StatusCode: status, Message: msg}
}

func newParseError(status int, err error) *Error {
	return &Error{Kind: KindParse, StatusCode: status, Message: err.Error(), Err: err}
}

func newUnexpectedError(v any) *Error {
	if err, ok := v.(error); ok {
		return &Error{Kind: KindUnexpected, Message: "unexpected error: " + err.Error(), Err: err}
	}
	return &Error{Kind: KindUnexpected, Message: fmt.Sprintf("unexpected error: %v", v)}
}
