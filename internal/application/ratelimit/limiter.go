package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/infrastructure/memory"
	"github.com/go-trustgate/internal/observability/metrics"
)

// Policy is a pair of fixed-window thresholds applied to one request class:
// one counter per network origin, one per normalized email.
type Policy struct {
	Name          string
	OriginLimit   int64
	IdentityLimit int64
	Window        time.Duration
}

var (
	// OTPRequest guards OTP issuance.
	OTPRequest = Policy{Name: "otp:req", OriginLimit: 10, IdentityLimit: 5, Window: 60 * time.Second}
	// PasswordInit guards the primary-factor check that precedes a login OTP.
	PasswordInit = Policy{Name: "rl:pwdinit", OriginLimit: 10, IdentityLimit: 5, Window: 60 * time.Second}
)

// SharedCounter is the cross-instance counter backend.
type SharedCounter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter counts requests per key in fixed windows. Counts go to the shared
// backend when one is configured; on any backend failure the call is served
// from the process-local table instead, so limits become per-instance for the
// duration of the outage.
type Limiter struct {
	shared SharedCounter
	local  *memory.CounterTable
}

// New builds a Limiter. shared may be nil, in which case only local counters are used.
func New(shared SharedCounter, local *memory.CounterTable) *Limiter {
	if local == nil {
		local = memory.NewCounterTable(nil)
	}
	return &Limiter{shared: shared, local: local}
}

// Increment records one hit on key and returns the count in the current window.
func (l *Limiter) Increment(ctx context.Context, key string, window time.Duration) int64 {
	if l.shared != nil {
		n, err := l.shared.Increment(ctx, key, window)
		if err == nil {
			return n
		}
		slog.Warn("rate limiter using process-local counters", "err", err)
		metrics.StoreFallbacksTotal.WithLabelValues("counters").Inc()
	}
	return l.local.Increment(key, window)
}

// Check counts one request from ip for email under p. Both counters are
// always incremented; crossing either threshold yields ErrRateLimited.
func (l *Limiter) Check(ctx context.Context, p Policy, ip, email string) error {
	if ip == "" {
		ip = "unknown"
	}
	originCount := l.Increment(ctx, p.Name+":ip:"+ip, p.Window)
	identityCount := l.Increment(ctx, p.Name+":email:"+domain.NormalizeEmail(email), p.Window)
	if originCount > p.OriginLimit || identityCount > p.IdentityLimit {
		return fmt.Errorf("%s: %w", p.Name, domain.ErrRateLimited)
	}
	return nil
}

// CheckOTPRequest applies the OTPRequest policy.
func (l *Limiter) CheckOTPRequest(ctx context.Context, ip, email string) error {
	return l.Check(ctx, OTPRequest, ip, email)
}

// CheckPasswordInit applies the PasswordInit policy.
func (l *Limiter) CheckPasswordInit(ctx context.Context, ip, email string) error {
	return l.Check(ctx, PasswordInit, ip, email)
}
