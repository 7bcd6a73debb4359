package common

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError. They double as metric labels.
const (
	CodeInputEmpty        = "INPUT_EMPTY"
	CodeBackend           = "BACKEND_ERROR"
	CodeBackendRejected   = "BACKEND_REJECTED"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeInvalidShape      = "INVALID_SHAPE"
	CodeStorage           = "STORAGE_ERROR"
	CodeMail              = "MAIL_ERROR"
	CodeConfig            = "CONFIG_ERROR"
	CodeUnknown           = "UNKNOWN"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrInputEmpty        = errors.New("empty input")
	ErrBackend           = errors.New("text-generation backend failed")
	ErrBackendRejected   = fmt.Errorf("%w: request rejected", ErrBackend)
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrInvalidShape      = errors.New("invalid document shape")
	ErrStorage           = errors.New("storage error")
	ErrMail              = errors.New("mailbox error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("resource not found")
)

// sentinelCodes maps each sentinel to its code so CodeOf works on wrapped sentinels too.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{ErrInputEmpty, CodeInputEmpty},
	{ErrBackendRejected, CodeBackendRejected},
	{ErrBackend, CodeBackend},
	{ErrMalformedResponse, CodeMalformedResponse},
	{ErrInvalidShape, CodeInvalidShape},
	{ErrStorage, CodeStorage},
	{ErrMail, CodeMail},
	{ErrInvalidInput, CodeConfig},
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// InputEmpty reports an empty email body.
func InputEmpty(message string) error {
	return NewAppError(CodeInputEmpty, message, ErrInputEmpty)
}

// BackendError wraps a text-generation transport/auth/quota failure.
func BackendError(cause error) error {
	return NewAppError(CodeBackend, "completion request failed", errors.Join(ErrBackend, cause))
}

// BackendRejected wraps a 4xx answer that resending the same request cannot fix.
func BackendRejected(cause error) error {
	return NewAppError(CodeBackendRejected, "completion request rejected", errors.Join(ErrBackendRejected, cause))
}

// MalformedResponse reports backend output that is not valid JSON.
func MalformedResponse(cause error) error {
	return NewAppError(CodeMalformedResponse, "backend output is not valid JSON", errors.Join(ErrMalformedResponse, cause))
}

// InvalidShape reports parsed output with the wrong shape.
func InvalidShape(message string) error {
	return NewAppError(CodeInvalidShape, message, ErrInvalidShape)
}

// StorageError wraps upload or persistence failures.
func StorageError(message string, cause error) error {
	return NewAppError(CodeStorage, message, errors.Join(ErrStorage, cause))
}

// MailError wraps IMAP failures.
func MailError(message string, cause error) error {
	return NewAppError(CodeMail, message, errors.Join(ErrMail, cause))
}

// CodeOf returns the AppError code of err, or a code derived from a wrapped sentinel.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return CodeUnknown
}

// IsPermanent reports whether retrying the same message cannot succeed:
// the input or the backend's answer is at fault, not the transport.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case CodeInputEmpty, CodeBackendRejected, CodeMalformedResponse, CodeInvalidShape:
		return true
	}
	return false
}
