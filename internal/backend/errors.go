package backend

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// IsNotFound returns true if the service answered 404.
func IsNotFound(err error) bool {
	var e *model.BackendError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsBadRequest returns true if the service rejected the request as invalid.
func IsBadRequest(err error) bool {
	var e *model.BackendError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

// IsUnavailable returns true if the service could not be reached or
// reported itself unavailable.
func IsUnavailable(err error) bool {
	var e *model.BackendError
	if errors.As(err, &e) {
		return e.StatusCode == 0 || e.StatusCode == http.StatusBadGateway ||
			e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
	}
	return false
}
