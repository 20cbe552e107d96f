package apiclient

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Reserved negative codes for envelopes that do not carry an HTTP status.
const (
	// CodeNonHTTPError is used when the request failed before a response
	// was received (timeout, connection failure, panicking task).
	CodeNonHTTPError = -1

	// CodeFormattingError is used when the formatter itself failed.
	CodeFormattingError = -2

	// CodeUnexpectedType is used when the formatter was handed an outcome
	// it does not recognize.
	CodeUnexpectedType = -3
)

// MessageSuccess is the message of every successful envelope built by
// DefaultFormatter.
const MessageSuccess = "Success"

// Envelope is the normalized result of one request.
//
// Code holds the HTTP status whenever a response was received, and one of
// the reserved negative codes otherwise.
type Envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// dataTypeBytes marks an encoded envelope whose Data is []byte. Without
// it the JSON form would decode back as a base64 string.
const dataTypeBytes = "bytes"

type envelopeJSON struct {
	Success  bool            `json:"success"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	DataType string          `json:"data_type,omitempty"`
}

// MarshalJSON encodes e, tagging []byte Data so that UnmarshalJSON can
// restore it. Only top-level bytes are tagged.
func (e Envelope) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	out := envelopeJSON{
		Success: e.Success,
		Code:    e.Code,
		Message: e.Message,
		Data:    data,
	}
	if _, ok := e.Data.([]byte); ok {
		out.DataType = dataTypeBytes
	}
	return json.Marshal(out)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*e = Envelope{Success: in.Success, Code: in.Code, Message: in.Message}
	if len(in.Data) == 0 {
		return nil
	}

	if in.DataType == dataTypeBytes {
		var raw []byte
		if err := json.Unmarshal(in.Data, &raw); err != nil {
			return fmt.Errorf("decode bytes data: %w", err)
		}
		e.Data = raw
		return nil
	}

	var v any
	if err := json.Unmarshal(in.Data, &v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	e.Data = v
	return nil
}

// errorEnvelope renders err as a failed envelope without going through a
// formatter. It backs batch slots whose task never produced an outcome.
func errorEnvelope(err *Error) Envelope {
	code := CodeNonHTTPError
	if err.StatusCode > 0 {
		code = err.StatusCode
	}
	return Envelope{Success: false, Code: code, Message: err.Error()}
}

// formattingFallback is the fixed envelope used when a formatter fails.
func formattingFallback(reason string) Envelope {
	return Envelope{
		Success: false,
		Code:    CodeFormattingError,
		Message: "Formatting failed: " + reason,
	}
}
