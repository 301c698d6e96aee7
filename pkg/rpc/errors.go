package rpc

import "fmt"

// Kind enumerates the RPC error taxonomy.
type Kind string

const (
	KindRequestInvalidTypeHeader Kind = "REQUEST_INVALID_TYPE_HEADER"
	KindRequestInvalidBody       Kind = "REQUEST_INVALID_BODY"
	KindValidationFailed         Kind = "VALIDATION_FAILED"
	KindAuthenticationRequired   Kind = "AUTHENTICATION_REQUIRED"
	KindPermissionDenied         Kind = "PERMISSION_DENIED"
	KindNotFound                 Kind = "NOT_FOUND"
	KindHandledError             Kind = "HANDLED_ERROR"
	KindInternalServerError      Kind = "INTERNAL_SERVER_ERROR"
	KindServerError              Kind = "SERVER_ERROR"
	KindUnexpected               Kind = "UNEXPECTED"
)

// ValidationIssue describes a single schema validation failure.
type ValidationIssue struct {
	Path    string `msgpack:"path"`
	Message string `msgpack:"message"`
}

// Error is a structured RPC error, thrown by the client and used internally
// by the server to decide the HTTP status and response body.
type Error struct {
	Kind     Kind              `msgpack:"kind"`
	Code     string            `msgpack:"code,omitempty"`
	Message  string            `msgpack:"message"`
	Status   int               `msgpack:"-"`
	Errors   []ValidationIssue `msgpack:"errors,omitempty"`
	Received any               `msgpack:"received,omitempty"`
	Payload  any               `msgpack:"payload,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewHandledError builds an application-declared error with a stable code
// and payload, surfaced to the client with the given HTTP status (which
// must be >= 400).
func NewHandledError(status int, code, message string, payload any) *Error {
	if status < 400 {
		status = 400
	}
	return &Error{Kind: KindHandledError, Code: code, Message: message, Status: status, Payload: payload}
}

func newRequestInvalidTypeHeader(message string) *Error {
	return &Error{Kind: KindRequestInvalidTypeHeader, Message: message, Status: 400}
}

func newRequestInvalidBody(message string) *Error {
	return &Error{Kind: KindRequestInvalidBody, Message: message, Status: 400}
}

func newValidationFailed(issues []ValidationIssue, received any) *Error {
	return &Error{Kind: KindValidationFailed, Message: "input failed schema validation", Status: 422, Errors: issues, Received: received}
}

func newAuthenticationRequired() *Error {
	return &Error{Kind: KindAuthenticationRequired, Message: "authentication required", Status: 401}
}

func newInternalServerError() *Error {
	return &Error{Kind: KindInternalServerError, Message: "internal server error", Status: 500}
}

// NewPermissionDenied is raised by the client on a 401/403 response.
func NewPermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message, Status: 403}
}

// NewNotFound is raised by the client on a 404 response.
func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, Status: 404}
}

// NewServerError is raised by the client on a 400/500 response carrying a
// declared code/message/payload.
func NewServerError(status int, code, message string, payload any) *Error {
	return &Error{Kind: KindServerError, Code: code, Message: message, Status: status, Payload: payload}
}

// NewUnexpected is raised by the client for any status it has no specific
// handling for.
func NewUnexpected(status int) *Error {
	return &Error{Kind: KindUnexpected, Message: fmt.Sprintf("unexpected status %d", status), Status: status}
}

// NewValidationError is raised by the client on a 422 response.
func NewValidationError(issues []ValidationIssue, received any) *Error {
	return &Error{Kind: KindValidationFailed, Message: "input failed schema validation", Status: 422, Errors: issues, Received: received}
}
