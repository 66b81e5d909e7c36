// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain and upstream errors to HTTP responses using
// RFC7807. Upstream 4xx statuses pass through; upstream 5xx and transport
// failures become 502.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		var statusErr *apiclient.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
				Problem(w, statusErr.StatusCode, http.StatusText(statusErr.StatusCode), "")
				return
			}
			Problem(w, http.StatusBadGateway, "Upstream Error", "")
			return
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
