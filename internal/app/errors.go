package app

import (
	"errors"
	"fmt"
	"net/http"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/store"
	"boardrelay/api/internal/trigger"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errSessionNotFound = domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Canvas session not found", nil)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, canvas.ErrUnknownObject):
		return http.StatusNotFound, "UNKNOWN_OBJECT", err.Error(), nil
	case errors.Is(err, canvas.ErrGestureActive):
		return http.StatusConflict, "GESTURE_ACTIVE", "A gesture is already in progress", nil
	case errors.Is(err, canvas.ErrNoGesture):
		return http.StatusConflict, "NO_GESTURE", "No gesture in progress", nil
	case errors.Is(err, canvas.ErrObjectLocked):
		return http.StatusConflict, "OBJECT_LOCKED", "Object is locked", nil
	case errors.Is(err, canvas.ErrInvalidKind), errors.Is(err, canvas.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, trigger.ErrUnknownChoice):
		return http.StatusNotFound, "UNKNOWN_CHOICE", "Trigger choice not found", nil
	case errors.Is(err, trigger.ErrInvalidChoice):
		return http.StatusUnprocessableEntity, "INVALID_CHOICE", err.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrInvalidPosition):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, export.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Export storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
