// Package chaterr defines the stable error taxonomy exposed at the API
// boundary. Every outward error carries a machine-readable "<code>:<surface>"
// tag plus a user-facing message; internal causes stay wrapped for logs.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error independently of where it occurred.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeRateLimit    Code = "rate_limit"
	CodeOffline      Code = "offline"
)

// Surface names the API area the error belongs to.
type Surface string

const (
	SurfaceAPI     Surface = "api"
	SurfaceAuth    Surface = "auth"
	SurfaceChat    Surface = "chat"
	SurfaceStream  Surface = "stream"
	SurfaceHistory Surface = "history"
)

// Error is a taxonomy-tagged error. The zero value is not valid; use New or
// Wrap.
type Error struct {
	Code    Code
	Surface Surface
	cause   error
}

// New creates a tagged error without a cause.
func New(code Code, surface Surface) *Error {
	return &Error{Code: code, Surface: surface}
}

// Wrap creates a tagged error keeping cause for logs and errors.Is/As chains.
func Wrap(code Code, surface Surface, cause error) *Error {
	return &Error{Code: code, Surface: surface, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Tag(), e.cause)
	}
	return e.Tag()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Tag returns the machine-readable "<code>:<surface>" identifier.
func (e *Error) Tag() string {
	return fmt.Sprintf("%s:%s", e.Code, e.Surface)
}

// Status maps the code to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeOffline:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// messages maps tags to user-facing text. Anything not listed falls back to
// the generic message so internal detail never leaks to clients.
var messages = map[string]string{
	"bad_request:api":   "The request couldn't be processed. Please check your input and try again.",
	"unauthorized:auth": "You need to sign in before continuing.",
	"forbidden:auth":    "Your account does not have access to this feature.",
	"unauthorized:chat": "You need to sign in to view this chat. Please sign in and try again.",
	"forbidden:chat":    "This chat belongs to another user. Please check the chat ID and try again.",
	"not_found:chat":    "The requested chat was not found. Please check the chat ID and try again.",
	"rate_limit:chat":   "You have exceeded your maximum number of messages for the day! Please try again later.",
	"offline:chat":      "We're having trouble sending your message. Please check your internet connection and try again.",
	"not_found:stream":  "The requested stream was not found. Please check the stream ID and try again.",
}

const genericMessage = "Something went wrong. Please try again later."

// Message returns the user-facing message for the error.
func (e *Error) Message() string {
	if msg, ok := messages[e.Tag()]; ok {
		return msg
	}
	return genericMessage
}

// FromError extracts a tagged error from err's chain; unclassified errors
// come back as bad_request:api so handlers always have a mappable error.
func FromError(err error) *Error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return Wrap(CodeBadRequest, SurfaceAPI, err)
}
