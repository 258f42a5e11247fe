package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
)

// Status is the HTTP status of a call, or StatusNetworkError when the call
// never produced a response.
type Status int

// StatusNetworkError marks transport failures. It is encoded on the wire as
// the string "network_error".
const StatusNetworkError Status = classify.StatusNetworkError

const networkErrorLiteral = "network_error"

// IsNetworkError reports whether s marks a transport failure.
func (s Status) IsNetworkError() bool { return s == StatusNetworkError }

func (s Status) String() string {
	if s == StatusNetworkError {
		return networkErrorLiteral
	}
	return strconv.Itoa(int(s))
}

// MarshalJSON encodes network errors as a string and everything else as a
// number.
func (s Status) MarshalJSON() ([]byte, error) {
	if s == StatusNetworkError {
		return []byte(`"` + networkErrorLiteral + `"`), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == networkErrorLiteral {
			*s = StatusNetworkError
			return nil
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return fmt.Errorf("invalid status %q", str)
		}
		*s = Status(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid status %s: %w", data, err)
	}
	*s = Status(n)
	return nil
}

// Envelope is the normalized result every gateway call resolves to.
type Envelope struct {
	// Success always equals 200 <= status < 300 for responses with a JSON or
	// empty body, whatever the body claims.
	Success bool `json:"success"`
	// Data is the payload: the body's data field, or the whole body when the
	// server sent no success field. Null when absent.
	Data json.RawMessage `json:"data"`
	// Message is a human readable summary.
	Message string `json:"message,omitempty"`
	// Errors lists individual error texts.
	Errors []string `json:"errors,omitempty"`
	// Status is the HTTP status or StatusNetworkError.
	Status Status `json:"status,omitempty"`

	// body is the raw response body, kept for helpers that need fields
	// outside data (login token lookup).
	body []byte
}

// ErrNoData is returned by Decode when the envelope carries no payload.
var ErrNoData = errors.New("client: envelope has no data")

// Decode unmarshals Data into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return ErrNoData
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode envelope data: %w", err)
	}
	return nil
}

// Err converts a failed envelope into an *APIError. Successful envelopes
// return nil.
func (e *Envelope) Err() error {
	if e == nil || e.Success {
		return nil
	}
	return &APIError{Status: e.Status, Message: e.Message, Errors: e.Errors}
}

// APIError is the error form of a failed envelope. It carries the status so
// the classifier can use it.
type APIError struct {
	Status  Status
	Message string
	Errors  []string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %s", e.Status)
}

// StatusCode returns the HTTP status, or -1 for network errors.
func (e *APIError) StatusCode() int { return int(e.Status) }

// RequestOptions configures a single gateway call.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim.
	Body any
	// UseAuth attaches the bearer token when a valid one is stored.
	UseAuth bool
	// CoalesceKey routes the call through the coalescer. Calls sharing a key
	// within the window collapse into the last one.
	CoalesceKey string
	// Headers are added to the request.
	Headers map[string]string
}
