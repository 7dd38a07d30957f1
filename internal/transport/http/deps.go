package http

import (
	"github.com/go-trustgate/internal/application/auth"
	"github.com/go-trustgate/internal/application/otp"
	"github.com/go-trustgate/internal/transport/http/handler"
	appmiddleware "github.com/go-trustgate/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps holds the application services the router exposes.
type Deps struct {
	OTP   otp.Service
	Auth  auth.Service
	Links handler.LinkService

	// Tokens verifies bearer tokens. Nil disables authenticated routes:
	// they answer 401.
	Tokens appmiddleware.TokenVerifier

	// Shared is the cross-instance store reported by the readiness probe. May be nil.
	Shared handler.Pinger

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}
