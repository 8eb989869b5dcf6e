package domain

import "errors"

type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidSection    ErrorCode = "INVALID_SECTION"
	ErrCodeInvalidAPIKey     ErrorCode = "AUTH_INVALID_API_KEY"
	ErrCodeIdempotency       ErrorCode = "IDEMPOTENCY_CONFLICT"
	ErrCodeJobNotFound       ErrorCode = "JOB_NOT_FOUND"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeMethodNotAllowed  ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeSessionBuildError ErrorCode = "SESSION_BUILD_ERROR"
	ErrCodeModelError        ErrorCode = "MODEL_ERROR"
	ErrCodePersistError      ErrorCode = "PERSIST_ERROR"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error tags an underlying failure with a machine-readable kind.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func WrapError(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf returns the innermost code in the chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	code := ErrCodeInternalError
	for err != nil {
		var tagged *Error
		if !errors.As(err, &tagged) {
			break
		}
		code = tagged.Code
		err = tagged.Err
	}
	return code
}
