package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-trustgate/internal/domain"
)

// httpError maps domain errors to status codes. Messages are generic: they
// never say which check failed.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, domain.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid token")
	case errors.Is(err, domain.ErrMarkerRequired):
		writeError(w, http.StatusForbidden, "password check required before requesting a code")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
	case errors.Is(err, domain.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "could not deliver the code, try again")
	case errors.Is(err, domain.ErrConfiguration):
		slog.Error("configuration error", "err", err)
		writeError(w, http.StatusInternalServerError, "service is not configured")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
