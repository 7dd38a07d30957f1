package otp

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/go-trustgate/internal/application/ratelimit"
	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/observability/metrics"
	"github.com/go-trustgate/internal/pkg/clock"
	"github.com/go-trustgate/internal/pkg/id"
	"github.com/go-trustgate/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

// MaxAttempts is the number of verification attempts a challenge accepts.
const MaxAttempts = 5

const (
	defaultTTL              = 10 * time.Minute
	defaultReuseWindow      = 60 * time.Second
	defaultDispatchAttempts = 3
	defaultDispatchBackoff  = 200 * time.Millisecond
)

// ChallengeStore persists OTP challenges. Implementations: dynamo.OTPChallengeRepo,
// memory.ChallengeStore.
type ChallengeStore interface {
	Put(ctx context.Context, c *domain.OTPChallenge) error
	Latest(ctx context.Context, key string) (*domain.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, key, challengeID string, maxAttempts int) (int, error)
	Consume(ctx context.Context, key, challengeID string, at time.Time) error
	MarkDispatched(ctx context.Context, key, challengeID string) error
}

type MarkerStore interface {
	HasMarker(ctx context.Context, email string) bool
	ClearMarker(ctx context.Context, email string)
}

type RateLimiter interface {
	Check(ctx context.Context, p ratelimit.Policy, ip, email string) error
}

// Dispatcher delivers a rendered message. Implementations: smtp.Mailer,
// sns.Publisher, logsink.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, msg domain.Message) error
}

type Config struct {
	TTL              time.Duration
	ReuseWindow      time.Duration
	BcryptCost       int
	DispatchAttempts int
	DispatchBackoff  time.Duration
}

type CreateParams struct {
	Email       string
	Purpose     domain.Purpose
	IP          string
	UserAgent   string
	// Zero TTL or ReuseWindow means the service default. A negative
	// ReuseWindow never collapses requests.
	TTL         time.Duration
	ReuseWindow time.Duration
}

type Result struct {
	Sent bool `json:"sent"`
}

type RequestCodeInput struct {
	Email     string `json:"email" validate:"required"`
	Purpose   string `json:"purpose"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

type VerifyCodeInput struct {
	Email   string `json:"email" validate:"required"`
	Code    string `json:"code" validate:"required"`
	Purpose string `json:"purpose"`
}

type Service interface {
	// RequestCode is the issuance boundary: rate limit, marker gate, then CreateAndSend.
	RequestCode(ctx context.Context, in RequestCodeInput) (Result, error)
	// VerifyCode is the verification boundary. It returns ErrInvalidCode for
	// every kind of rejection and clears the 2FA marker after a valid login code.
	VerifyCode(ctx context.Context, in VerifyCodeInput) error
	CreateAndSend(ctx context.Context, p CreateParams) (Result, error)
	Verify(ctx context.Context, email, code string, purpose domain.Purpose) (bool, error)
}

type ServiceDeps struct {
	Challenges ChallengeStore
	Markers    MarkerStore
	Limiter    RateLimiter
	Dispatcher Dispatcher
	Clock      clock.Clock
	Config     Config
}

type service struct {
	challenges ChallengeStore
	markers    MarkerStore
	limiter    RateLimiter
	dispatcher Dispatcher
	clock      clock.Clock
	cfg        Config
	dummyHash  []byte

	// Serializes issuance per challenge key within this process so that
	// concurrent requests collapse into one dispatch.
	locks [64]sync.Mutex
}

func NewService(deps ServiceDeps) Service {
	cfg := deps.Config
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.ReuseWindow < 0 {
		cfg.ReuseWindow = 0
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.DispatchAttempts <= 0 {
		cfg.DispatchAttempts = defaultDispatchAttempts
	}
	if cfg.DispatchBackoff <= 0 {
		cfg.DispatchBackoff = defaultDispatchBackoff
	}
	c := deps.Clock
	if c == nil {
		c = clock.System
	}
	s := &service{
		challenges: deps.Challenges,
		markers:    deps.Markers,
		limiter:    deps.Limiter,
		dispatcher: deps.Dispatcher,
		clock:      c,
		cfg:        cfg,
	}
	// Rejections without a stored hash still pay for one comparison.
	if h, err := bcrypt.GenerateFromPassword([]byte("000000"), cfg.BcryptCost); err == nil {
		s.dummyHash = h
	}
	return s
}

func (s *service) RequestCode(ctx context.Context, in RequestCodeInput) (Result, error) {
	email := domain.NormalizeEmail(in.Email)
	purpose := domain.ParsePurpose(in.Purpose)
	if email == "" {
		return Result{}, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	if err := s.limiter.Check(ctx, ratelimit.OTPRequest, in.IP, email); err != nil {
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "rate_limited").Inc()
		return Result{}, err
	}
	return s.CreateAndSend(ctx, CreateParams{
		Email:       email,
		Purpose:     purpose,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
		TTL:         s.cfg.TTL,
		ReuseWindow: s.cfg.ReuseWindow,
	})
}

func (s *service) CreateAndSend(ctx context.Context, p CreateParams) (Result, error) {
	email := domain.NormalizeEmail(p.Email)
	if email == "" {
		return Result{}, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	purpose := p.Purpose
	if !purpose.Valid() {
		purpose = domain.PurposeLogin
	}
	if purpose == domain.PurposeLogin && !s.markers.HasMarker(ctx, email) {
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "unauthorized").Inc()
		return Result{}, domain.ErrMarkerRequired
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	window := p.ReuseWindow
	if window == 0 {
		window = s.cfg.ReuseWindow
	}

	key := domain.ChallengeKey(email, purpose)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := s.clock.Now()
	latest, err := s.challenges.Latest(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "error").Inc()
		return Result{}, fmt.Errorf("load latest otp challenge: %w", err)
	}
	if latest != nil && latest.Dispatched && latest.Active(now) && now.Sub(latest.CreatedAt) < window {
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "reused").Inc()
		return Result{Sent: true}, nil
	}

	code, err := token.NewNumericCode(token.CodeDigits)
	if err != nil {
		return Result{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return Result{}, fmt.Errorf("hash otp code: %w", err)
	}
	expiresAt := now.Add(ttl)
	c := &domain.OTPChallenge{
		Key:           key,
		ChallengeID:   id.NewAt(now),
		Email:         email,
		Purpose:       purpose,
		CodeHash:      string(hash),
		IP:            p.IP,
		UserAgent:     p.UserAgent,
		CreatedAt:     now.UTC(),
		ExpiresAt:     expiresAt.UTC(),
		ExpiresAtUnix: expiresAt.Unix(),
	}
	if err := s.challenges.Put(ctx, c); err != nil {
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "error").Inc()
		return Result{}, fmt.Errorf("store otp challenge: %w", err)
	}

	if err := s.dispatch(ctx, RenderMessage(email, code, purpose, ttl)); err != nil {
		slog.Warn("otp dispatch failed", "purpose", purpose, "challenge_id", c.ChallengeID, "err", err)
		metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "transport_error").Inc()
		return Result{Sent: false}, fmt.Errorf("dispatch otp: %w", domain.ErrTransportUnavailable)
	}
	if err := s.challenges.MarkDispatched(ctx, key, c.ChallengeID); err != nil {
		slog.Warn("failed to mark otp challenge dispatched", "challenge_id", c.ChallengeID, "err", err)
	}
	metrics.OTPRequestsTotal.WithLabelValues(string(purpose), "sent").Inc()
	return Result{Sent: true}, nil
}

func (s *service) dispatch(ctx context.Context, msg domain.Message) error {
	var err error
	for attempt := 1; attempt <= s.cfg.DispatchAttempts; attempt++ {
		if err = s.dispatcher.Send(ctx, msg); err == nil {
			return nil
		}
		if attempt == s.cfg.DispatchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.cfg.DispatchBackoff):
		}
	}
	return err
}

func (s *service) VerifyCode(ctx context.Context, in VerifyCodeInput) error {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	purpose := domain.ParsePurpose(in.Purpose)
	ok, err := s.Verify(ctx, email, token.SanitizeCode(in.Code), purpose)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidCode
	}
	if purpose == domain.PurposeLogin {
		s.markers.ClearMarker(ctx, email)
	}
	return nil
}

func (s *service) Verify(ctx context.Context, email, code string, purpose domain.Purpose) (bool, error) {
	if !purpose.Valid() {
		purpose = domain.PurposeLogin
	}
	ok, err := s.verify(ctx, domain.NormalizeEmail(email), code, purpose)
	switch {
	case err != nil:
		metrics.OTPVerificationsTotal.WithLabelValues(string(purpose), "error").Inc()
	case ok:
		metrics.OTPVerificationsTotal.WithLabelValues(string(purpose), "valid").Inc()
	default:
		metrics.OTPVerificationsTotal.WithLabelValues(string(purpose), "invalid").Inc()
	}
	return ok, err
}

func (s *service) verify(ctx context.Context, email, code string, purpose domain.Purpose) (bool, error) {
	key := domain.ChallengeKey(email, purpose)
	now := s.clock.Now()

	c, err := s.challenges.Latest(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		s.burn(code)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load latest otp challenge: %w", err)
	}
	if !c.Active(now) || c.Attempts >= MaxAttempts {
		s.burn(code)
		return false, nil
	}

	if _, err := s.challenges.IncrementAttempts(ctx, key, c.ChallengeID, MaxAttempts); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			s.burn(code)
			return false, nil
		}
		return false, fmt.Errorf("count otp attempt: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		return false, nil
	}

	if err := s.challenges.Consume(ctx, key, c.ChallengeID, now.UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}
	return true, nil
}

func (s *service) burn(code string) {
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(code))
	}
}

func (s *service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
