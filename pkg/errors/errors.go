package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantExists       = errors.New("tenant already exists")
	ErrProducerNotFound   = errors.New("event producer not found")
	ErrProducerExists     = errors.New("event producer already exists")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnroutable         = errors.New("document not routable to this sink")
	ErrQueueUnavailable   = errors.New("queue unavailable")
	ErrBackendUnavailable = errors.New("search backend unavailable")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrProducerNotFound), errors.Is(err, ErrWorkerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTenantExists), errors.Is(err, ErrProducerExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnroutable):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueUnavailable), errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}

}
