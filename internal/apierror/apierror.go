// Package apierror implements the error taxonomy of spec.md §7 and its
// projection onto the OpenAI error envelope every response from this
// gateway must use, regardless of which internal kind produced it.
//
// Adapted from the teacher's internal/errors package: one failure kind maps
// to exactly one HTTP status, but the response body shape here is the
// OpenAI {error:{message,type,param,code}} envelope instead of the
// teacher's flat {error, details}.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Kind is one of the error taxonomy entries in spec.md §7.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindUnauthorized     Kind = "unauthorized"
	KindUpstreamTimeout  Kind = "upstream_timeout"
	KindUpstreamRejected Kind = "upstream_rejected"
	KindUpstreamError    Kind = "upstream_error"
	KindToolCallInvalid  Kind = "tool_call_invalid"
	KindDecryptionFailed Kind = "decryption_failed"
	KindInternal         Kind = "internal"
)

// Error is the internal representation of a taxonomy failure. It carries
// enough information to render either an HTTP JSON body or an SSE error
// frame, per the propagation policy in spec.md §7.
type Error struct {
	Kind Kind
	// Message is safe to show to the API caller.
	Message string
	// RejectKind is populated only for KindUpstreamRejected (e.g. "timeout",
	// "rejected", "harmful") and mirrors the upstream terminal event name.
	RejectKind string
	// Err is the wrapped underlying cause, if any, for logging only — never
	// rendered to the caller.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a tagged Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Invalid is a convenience constructor for the common validation-failure
// path in request handlers.
func Invalid(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

// Rejected builds an UpstreamRejected error carrying the upstream's literal
// terminal event name (timeout, error, rejected, harmful).
func Rejected(rejectKind string) *Error {
	return &Error{Kind: KindUpstreamRejected, RejectKind: rejectKind, Message: "upstream rejected the request: " + rejectKind}
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUpstreamTimeout, KindUpstreamRejected, KindUpstreamError:
		return http.StatusBadGateway
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// openAIType maps a Kind to the OpenAI error "type" field.
func (k Kind) openAIType() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindUnauthorized:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

// OpenAIBody is the wire shape of spec.md's OpenAI-compatible error body.
type OpenAIBody struct {
	Error OpenAIError `json:"error"`
}

// OpenAIError is the inner {message,type,param,code} object.
type OpenAIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// ToOpenAI projects the Error onto the wire body a JSON (non-stream)
// response returns.
func (e *Error) ToOpenAI() OpenAIBody {
	return OpenAIBody{
		Error: OpenAIError{
			Message: e.Message,
			Type:    e.Kind.openAIType(),
			Param:   nil,
			Code:    nil,
		},
	}
}

// sseErrorFrame is the event a streaming handler emits before closing when
// the upstream call fails after bytes have already been written to the
// client (spec.md §7 propagation policy).
type sseErrorFrame struct {
	Type  string     `json:"type"`
	Error OpenAIError `json:"error"`
}

func marshalSSEError(e *Error) ([]byte, error) {
	frame := sseErrorFrame{Type: "error", Error: e.ToOpenAI().Error}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	out := append([]byte("data: "), payload...)
	out = append(out, '\n', '\n')
	return out, nil
}
