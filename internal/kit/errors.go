package kit

import (
	"errors"
	"fmt"
)

// Code categorises a failed Kit call.
type Code string

const (
	CodeMissingCredentials Code = "missing_credentials"
	CodeRequestFailed      Code = "http_request_failed"
	CodeHTTPError          Code = "http_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeRateLimited        Code = "rate_limited"
	CodeServerError        Code = "server_error"
	CodeInvalidJSON        Code = "response_invalid_json"
	CodeInvalidTagID       Code = "invalid_tag_id"
	CodeTokenRefreshFailed Code = "token_refresh_failed"
	CodeNotFound           Code = "not_found"
	CodeSubscriberNotFound Code = "subscriber_not_found"
)

var (
	ErrMissingCredentials = errors.New("kit credentials not configured")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrOAuthRequired      = errors.New("operation requires an oauth connection")
)

// Error is returned by every Client operation that fails.
type Error struct {
	Op         string // e.g. "tag_subscriber"
	Code       Code
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("kit %s: %s (%d): %s", e.Op, e.Code, e.StatusCode, msg)
	}
	return fmt.Sprintf("kit %s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrMissingCredentials:
		return e.Code == CodeMissingCredentials
	case ErrSubscriberNotFound:
		return e.Code == CodeSubscriberNotFound
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized || e.Code == CodeTokenRefreshFailed
	}
	return false
}

func newError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// codeForStatus classifies a non-2xx response.
func codeForStatus(status int) Code {
	switch {
	case status == 401:
		return CodeUnauthorized
	case status == 404:
		return CodeNotFound
	case status == 429:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	default:
		return CodeHTTPError
	}
}

// CodeOf returns the Code carried by err, or "" if err is not a *Error.
func CodeOf(err error) Code {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return ""
}
