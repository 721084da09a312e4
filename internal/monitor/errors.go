package monitor

import (
	"errors"
	"fmt"
	"net/http"

	"keepalive/internal/models"
)

// ErrRunInProgress is returned by RunOnce while another run holds the run lock.
var ErrRunInProgress = errors.New("a run is already in progress")

// ServiceError represents errors from the monitor service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewRunNotFoundError(runID string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRunNotFound,
		Message:    fmt.Sprintf("run '%s' not found", runID),
		StatusCode: http.StatusNotFound,
	}
}

func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewRunInProgressError() *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRunInProgress,
		Message:    "a run is already in progress, try again once it finished",
		StatusCode: http.StatusConflict,
		Err:        ErrRunInProgress,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
