package datavox

import "fmt"

type ErrorKind string

const (
	// ToolRegistrationErrorKind covers duplicate adds, removals of
	// absent tools and invalid definitions.
	ToolRegistrationErrorKind ErrorKind = "tool_registration_error"
	// ToolDispatchErrorKind covers failures between a completed
	// function call item and its round-tripped output.
	ToolDispatchErrorKind ErrorKind = "tool_dispatch_error"
	// SessionErrorKind covers session lifecycle contract violations.
	SessionErrorKind ErrorKind = "session_error"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newToolRegistrationError(format string, args ...any) *Error {
	return &Error{
		Kind:    ToolRegistrationErrorKind,
		Message: fmt.Sprintf(format, args...),
	}
}

func newToolDispatchError(err error, format string, args ...any) *Error {
	return &Error{
		Kind:    ToolDispatchErrorKind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func newSessionError(format string, args ...any) *Error {
	return &Error{
		Kind:    SessionErrorKind,
		Message: fmt.Sprintf(format, args...),
	}
}
