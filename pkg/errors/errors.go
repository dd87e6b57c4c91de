package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation   = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal     = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict     = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrTimeout      = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)

	// Saga error taxonomy. Retryability decides between redelivery and the
	// dead-letter topic, so the classification here is load-bearing.
	ErrPublish          = NewError("PUBLISH_ERROR", "broker publish failed", http.StatusServiceUnavailable)
	ErrSchema           = NewError("SCHEMA_ERROR", "unsupported schema version", http.StatusUnprocessableEntity)
	ErrMalformedPayload = NewError("MALFORMED_PAYLOAD", "payload does not match event type schema", http.StatusUnprocessableEntity)
	ErrSignatureInvalid = NewError("SIGNATURE_INVALID", "webhook signature verification failed", http.StatusUnauthorized)
	ErrVersionConflict  = NewError("VERSION_CONFLICT", "optimistic concurrency conflict", http.StatusConflict)
	ErrHandlerTimeout   = NewError("HANDLER_TIMEOUT", "handler exceeded execution deadline", http.StatusRequestTimeout)
	ErrDeadLetter       = NewError("DEAD_LETTER", "message exhausted retry policy", http.StatusInternalServerError)
)

// fatalCodes never benefit from redelivery: the message itself is bad or the
// request was rejected outright.
var fatalCodes = map[string]bool{
	ErrValidation.Code:       true,
	ErrNotFound.Code:         true,
	ErrSchema.Code:           true,
	ErrMalformedPayload.Code: true,
	ErrSignatureInvalid.Code: true,
	ErrDeadLetter.Code:       true,
}

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var appErr *Error
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !fatalCodes[e.Code]
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return fatalCodes[e.Code]
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func IsNotFound(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrNotFound.Code
	}
	return false
}

func IsVersionConflict(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrVersionConflict.Code
	}
	return false
}

func IsSignatureInvalid(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrSignatureInvalid.Code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
