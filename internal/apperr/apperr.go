// ABOUTME: Error taxonomy shared by every huddle operation
// ABOUTME: Maps domain failures onto gRPC status codes, HTTP statuses and wire codes

package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// internalMessage is the only text an Internal error ever shows a caller.
const internalMessage = "something went wrong"

// Error is a failure that is safe to surface to a caller.
// The wrapped cause is kept for logging and is never serialized.
type Error struct {
	Code    codes.Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.WireCode(), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.WireCode(), e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status analogue of the error code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WireCode returns the string code sent to clients.
func (e *Error) WireCode() string {
	switch e.Code {
	case codes.Unauthenticated:
		return "UNAUTHENTICATED"
	case codes.PermissionDenied:
		return "FORBIDDEN"
	case codes.InvalidArgument:
		return "BAD_REQUEST"
	case codes.NotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_SERVER"
	}
}

// Payload is the {code, message} pair written on the wire.
type Payload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Payload returns the client-facing form. Internal errors never carry their cause.
func (e *Error) Payload() Payload {
	msg := e.Message
	if e.HTTPStatus() == http.StatusInternalServerError {
		msg = internalMessage
	}
	return Payload{Code: e.WireCode(), Message: msg}
}

func newf(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated means no valid caller identity was presented.
func Unauthenticated(format string, args ...any) *Error {
	return newf(codes.Unauthenticated, format, args...)
}

// Forbidden means the caller is known but not entitled to the resource.
func Forbidden(format string, args ...any) *Error {
	return newf(codes.PermissionDenied, format, args...)
}

// InvalidArgument reports a request that failed validation.
func InvalidArgument(format string, args ...any) *Error {
	return newf(codes.InvalidArgument, format, args...)
}

// NotFound reports a missing resource addressed by id.
func NotFound(format string, args ...any) *Error {
	return newf(codes.NotFound, format, args...)
}

// Internal wraps an unexpected fault. The cause is only visible to logs.
func Internal(cause error) *Error {
	return &Error{Code: codes.Internal, Message: internalMessage, cause: cause}
}

// From normalizes any error into an *Error. Errors that already carry a
// taxonomy code anywhere in their chain keep it; everything else is Internal.
// Returns nil for a nil error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// CodeOf returns the taxonomy code of err, codes.OK for nil.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return From(err).Code
}
