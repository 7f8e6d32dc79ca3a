package models

import "errors"

// Error codes. Each code maps to one class of failure a routing request can
// report; callers match on the code with errors.Is or HasCode.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeDuplicateSession    = "DUPLICATE_SESSION"
	CodeHardwareUnavailable = "HARDWARE_UNAVAILABLE"
	CodeInconsistentState   = "INCONSISTENT_STATE"
	CodeIO                  = "IO_ERROR"
	CodeRefcountUnderflow   = "REFCOUNT_UNDERFLOW"
	CodeInternal            = "INTERNAL"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.Err }

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, models.ErrNotFound("")) matches any not-found error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Error constructors.
var (
	ErrInvalidArgument = func(msg string) *AppError {
		return &AppError{Code: CodeInvalidArgument, Message: msg, Status: 400}
	}
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: CodeNotFound, Message: msg, Status: 404}
	}
	ErrDuplicateSession = func(msg string) *AppError {
		return &AppError{Code: CodeDuplicateSession, Message: msg, Status: 409}
	}
	ErrHardwareUnavailable = func(msg string) *AppError {
		return &AppError{Code: CodeHardwareUnavailable, Message: msg, Status: 503}
	}
	ErrInconsistentState = func(msg string) *AppError {
		return &AppError{Code: CodeInconsistentState, Message: msg, Status: 500}
	}
	ErrIO = func(msg string, err error) *AppError {
		return &AppError{Code: CodeIO, Message: msg, Status: 502, Err: err}
	}
	ErrInternal = func(msg string) *AppError {
		return &AppError{Code: CodeInternal, Message: msg, Status: 500}
	}
	ErrUnauthorized = func(msg string) *AppError {
		return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
	}
	ErrForbidden = func(msg string) *AppError {
		return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
	}
)

// HasCode reports whether err wraps an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
