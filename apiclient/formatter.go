package apiclient

import "fmt"

// Outcome is what the executor hands to a Formatter: either a response
// (with its parsed value or parse error) or a transport failure.
type Outcome struct {
	// Response is set when the transport returned a response.
	Response *Response

	// Err is the classified transport failure, if any.
	Err error

	// Parsed is the parser's result for a successful response.
	Parsed any

	// ParseErr is set when the parser failed on a successful response.
	ParseErr error
}

// Formatter converts an Outcome into an Envelope.
type Formatter interface {
	Format(out Outcome, spec RequestSpec) (Envelope, error)
}

// FormatterFunc adapts a function to the Formatter interface.
type FormatterFunc func(out Outcome, spec RequestSpec) (Envelope, error)

func (f FormatterFunc) Format(out Outcome, spec RequestSpec) (Envelope, error) {
	return f(out, spec)
}

// DefaultFormatter produces the standard envelope shapes.
type DefaultFormatter struct{}

func (DefaultFormatter) Format(out Outcome, _ RequestSpec) (Envelope, error) {
	switch {
	case out.Err != nil:
		apiErr, ok := AsError(out.Err)
		if !ok {
			return Envelope{
				Success: false,
				Code:    CodeUnexpectedType,
				Message: fmt.Sprintf("unexpected error type %T: %v", out.Err, out.Err),
			}, nil
		}
		return errorEnvelope(apiErr), nil

	case out.Response != nil && out.ParseErr != nil:
		return Envelope{
			Success: false,
			Code:    out.Response.StatusCode,
			Message: "Parsing failed: " + out.ParseErr.Error(),
		}, nil

	case out.Response != nil:
		return Envelope{
			Success: true,
			Code:    out.Response.StatusCode,
			Message: MessageSuccess,
			Data:    out.Parsed,
		}, nil

	default:
		return Envelope{
			Success: false,
			Code:    CodeUnexpectedType,
			Message: "unexpected outcome: neither response nor error",
		}, nil
	}
}
