package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-trustgate/internal/config"
	"github.com/go-trustgate/internal/transport/http/handler"
	appmiddleware "github.com/go-trustgate/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. Background cleanup
// for the per-IP limiter stops when ctx is cancelled.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appmiddleware.BotSecretHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.Tokens != nil {
		authMw = appmiddleware.Auth(deps.Tokens)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10, in front of the credential endpoints.
	// The per-identity windows live in the application layer.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	go sensitiveRL.Run(ctx)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	healthH := handler.NewHealthHandler(deps.Shared)
	otpH := handler.NewOTPHandler(deps.OTP)
	pwH := handler.NewPasswordInitHandler(deps.Auth)
	tgH := handler.NewTelegramHandler(deps.Links)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/password-init", pwH.PasswordInit)
		r.With(sensitiveRL.Limit).Post("/otp/request", otpH.Request)
		r.With(sensitiveRL.Limit).Post("/otp/verify", otpH.Verify)

		// ── Bot webhook callbacks ────────────────────────────────────────────
		r.With(
			appmiddleware.RequireBotSecret(cfg.Telegram.WebhookSecret),
			httprate.LimitByIP(100, 1*time.Minute),
		).Post("/telegram/link/redeem", tgH.Redeem)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/telegram/link/start", tgH.Start)
			r.Post("/telegram/link/start", tgH.Start)
		})
	})

	return r
}
