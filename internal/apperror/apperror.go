package apperror

import "errors"

// Kind describes a stable error category that can be mapped to HTTP status codes.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
)

// Code is a machine-readable reason reported to clients next to the message.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeExpired        Code = "expired"
	CodeInactive       Code = "inactive"
	CodeUsageExceeded  Code = "usage_exceeded"
	CodeDuplicateCode  Code = "duplicate_code"
	CodeNoLongerValid  Code = "no_longer_valid"
	CodeNetworkFailure Code = "network_failure"
	CodeInvalidInput   Code = "invalid_input"
)

// Error is a typed error with a stable Kind, an optional Code and a human-readable message.
// Msg should be safe to return to clients for Validation/NotFound/Conflict.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithCode builds an error carrying both a kind and a domain code.
func WithCode(kind Kind, code Code, msg string, err error) error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func NotFound(msg string, err error) error    { return New(KindNotFound, msg, err) }
func Validation(msg string, err error) error  { return New(KindValidation, msg, err) }
func Conflict(msg string, err error) error    { return New(KindConflict, msg, err) }
func Unavailable(msg string, err error) error { return New(KindUnavailable, msg, err) }

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// CodeOf returns the domain code of the first *Error in the chain, or "" if none is set.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
