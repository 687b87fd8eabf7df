package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/remote"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if cErr, ok := cerrors.As(err); ok {
		var d any
		if len(cErr.Details) > 0 {
			d = cErr.Details
		}
		return cErr.Status, string(cErr.Code), cErr.Message, d
	}
	if errors.Is(err, remote.ErrClosed) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Service shutting down", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Timed out waiting for the write", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
