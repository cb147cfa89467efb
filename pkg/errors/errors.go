package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

type ErrorCode string

const (
	// System errors
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
	ErrDatabase      ErrorCode = "DATABASE_ERROR"
	ErrRedis         ErrorCode = "REDIS_ERROR"
	ErrConfiguration ErrorCode = "CONFIG_ERROR"
	ErrShutdown      ErrorCode = "SHUTDOWN"

	// Call lifecycle errors
	ErrCallNotFound         ErrorCode = "CALL_NOT_FOUND"
	ErrAccountNotFound      ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrAdmissionDenied      ErrorCode = "ADMISSION_DENIED"
	ErrInvalidState         ErrorCode = "INVALID_STATE"
	ErrCapabilityMissing    ErrorCode = "CAPABILITY_MISSING"
	ErrInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	ErrEmergencyInProgress  ErrorCode = "EMERGENCY_IN_PROGRESS"
	ErrHandoverInProgress   ErrorCode = "HANDOVER_IN_PROGRESS"
	ErrHandoverNotSupported ErrorCode = "HANDOVER_NOT_SUPPORTED"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
	Stack   string
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
		Stack:   getStack(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// If already an AppError, enhance it
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
		Stack:   getStack(),
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrDatabase, ErrRedis:
		return true
	default:
		return false
	}
}

func getStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return builder.String()
}

// Is reports whether err is an AppError carrying code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// CodeOf returns the code of err, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
