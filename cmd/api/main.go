package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-trustgate/internal/application/auth"
	"github.com/go-trustgate/internal/application/linktoken"
	"github.com/go-trustgate/internal/application/otp"
	"github.com/go-trustgate/internal/application/ratelimit"
	"github.com/go-trustgate/internal/application/twofa"
	"github.com/go-trustgate/internal/config"
	"github.com/go-trustgate/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-trustgate/internal/infrastructure/jwt"
	"github.com/go-trustgate/internal/infrastructure/logsink"
	"github.com/go-trustgate/internal/infrastructure/memory"
	redisinfra "github.com/go-trustgate/internal/infrastructure/redis"
	"github.com/go-trustgate/internal/infrastructure/smtp"
	"github.com/go-trustgate/internal/infrastructure/sns"
	"github.com/go-trustgate/internal/infrastructure/telegram"
	"github.com/go-trustgate/internal/observability/metrics"
	"github.com/go-trustgate/internal/pkg/clock"
	transporthttp "github.com/go-trustgate/internal/transport/http"
	appmiddleware "github.com/go-trustgate/internal/transport/http/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// DynamoDB holds user credentials and, unless OTP_STORE=memory, challenges.
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
	credentials := dynamo.NewCredentialRepo(dynamoClient, cfg.DynamoTables.Users)

	var challenges otp.ChallengeStore
	switch cfg.OTPStore {
	case "memory":
		slog.Warn("OTP challenges kept in process memory; not shared across instances")
		store := memory.NewChallengeStore(clock.System)
		go store.Run(ctx, time.Minute)
		challenges = store
	default:
		challenges = dynamo.NewOTPChallengeRepo(dynamoClient, cfg.DynamoTables.OTPChallenges)
	}

	// Shared store (optional). Without it every instance enforces its own limits.
	counters := memory.NewCounterTable(clock.System)
	markerTable := memory.NewMarkerTable(clock.System)
	go counters.Run(ctx, time.Minute)
	go markerTable.Run(ctx)

	shared := newSharedStore(ctx, cfg)
	var (
		limiter *ratelimit.Limiter
		markers *twofa.MarkerStore
		deps    = &transporthttp.Deps{}
	)
	if shared != nil {
		limiter = ratelimit.New(shared, counters)
		markers = twofa.NewMarkerStore(shared, markerTable)
		deps.Shared = shared
	} else {
		limiter = ratelimit.New(nil, counters)
		markers = twofa.NewMarkerStore(nil, markerTable)
	}

	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		slog.Error("dispatcher not available", "backend", cfg.DispatchBackend, "err", err)
		os.Exit(1)
	}

	otpSvc := otp.NewService(otp.ServiceDeps{
		Challenges: challenges,
		Markers:    markers,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Clock:      clock.System,
		Config: otp.Config{
			TTL:         cfg.OTPTTL,
			ReuseWindow: cfg.OTPReuseWindow,
			BcryptCost:  cfg.OTPBcryptCost,
		},
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		Credentials:    credentials,
		Limiter:        limiter,
		Markers:        markers,
		OTP:            otpSvc,
		MarkerTTL:      cfg.MarkerTTL,
		OTPTTL:         cfg.OTPTTL,
		OTPReuseWindow: cfg.OTPReuseWindow,
	})

	// JWT provider (optional; authenticated routes answer 401 without it).
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.Tokens = p
	} else {
		slog.Warn("JWT provider not available", "err", err)
	}

	secret, err := linktoken.ResolveSecret(linktoken.Secrets{
		LinkSecret:   cfg.Telegram.LinkSecret,
		SharedSecret: cfg.Telegram.JWTSecret,
		AuthSecret:   cfg.Telegram.NextAuthKey,
		BotToken:     cfg.Telegram.BotToken,
	})
	if err != nil {
		slog.Warn("telegram linking disabled", "err", err)
	}
	issuer := linktoken.NewIssuer(secret, clock.System)
	bots := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, cfg.Telegram.BotUsername)

	deps.OTP = otpSvc
	deps.Auth = authSvc
	deps.Links = linktoken.NewService(issuer, bots, cfg.LinkTokenTTL)

	if err := appmiddleware.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		slog.Error("invalid TRUSTED_PROXIES", "err", err)
		os.Exit(1)
	}
	if len(cfg.TrustedProxies) == 1 && cfg.TrustedProxies[0] == "*" {
		slog.Warn("forwarding headers trusted from any peer; set TRUSTED_PROXIES behind a load balancer")
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "otp_store", cfg.OTPStore, "dispatch", cfg.DispatchBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func newLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newSharedStore connects to Redis when REDIS_URL is set. An unreachable
// server at startup is logged and treated as absent.
func newSharedStore(ctx context.Context, cfg *config.Config) *redisinfra.Store {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set; rate limits and 2FA markers are per-instance")
		return nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL; using process-local state", "err", err)
		return nil
	}
	store := redisinfra.NewStore(redis.NewClient(opt), cfg.RedisKeyPrefix, cfg.RedisOpTimeout)
	if err := store.Ping(ctx); err != nil {
		slog.Warn("redis unreachable at startup; falling back per call", "err", err)
	}
	return store
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (otp.Dispatcher, error) {
	switch cfg.DispatchBackend {
	case "smtp":
		return smtp.NewMailer(cfg), nil
	case "sns":
		return sns.NewPublisher(ctx, cfg)
	case "log", "":
		return logsink.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown DISPATCH_BACKEND %q", cfg.DispatchBackend)
	}
}
