package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
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
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInternal          = errors.New("internal error")
	ErrDatabase          = errors.New("database error")
	ErrValidation        = errors.New("validation failed")
	ErrContention        = errors.New("resource contention")
)

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

// NotFoundf builds an AppError wrapping ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return NewAppError("NOT_FOUND", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidTransitionf builds an AppError wrapping ErrInvalidTransition.
func InvalidTransitionf(format string, args ...interface{}) error {
	return NewAppError("INVALID_TRANSITION", fmt.Sprintf(format, args...), ErrInvalidTransition)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func FailedPreconditionError(message string) error {
	return status.Error(codes.FailedPrecondition, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

// ToStatus maps domain errors onto gRPC status errors.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return InvalidArgumentError(err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return FailedPreconditionError(err.Error())
	case errors.Is(err, ErrContention):
		return status.Error(codes.Aborted, err.Error())
	default:
		return InternalError(err.Error())
	}
}

// ErrorKind returns a short label for err suitable for job error messages.
func ErrorKind(err error) string {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	default:
		return "ProcessingError"
	}
}

// FailureMessage renders err as "<Kind>: <message>" for storing on a job.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code + ": " + appErr.Message
	}
	return ErrorKind(err) + ": " + err.Error()
}
