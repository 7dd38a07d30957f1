package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrBadRequest           = errors.New("bad request")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrInvalidCode          = errors.New("invalid or expired code")
	ErrConfiguration        = errors.New("configuration error")
	ErrBackendUnavailable   = errors.New("backend unavailable")

	// ErrMarkerRequired is returned when a login code is requested without a
	// recent password check. It matches ErrUnauthorized.
	ErrMarkerRequired = fmt.Errorf("password check required: %w", ErrUnauthorized)

	// ErrInvalidToken is the collapsed outcome of link-token verification.
	// ErrMalformedToken and ErrExpiredToken both satisfy errors.Is(err, ErrInvalidToken).
	ErrInvalidToken   = errors.New("invalid token")
	ErrMalformedToken = fmt.Errorf("malformed token: %w", ErrInvalidToken)
	ErrExpiredToken   = fmt.Errorf("expired token: %w", ErrInvalidToken)
)
