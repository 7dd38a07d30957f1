package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-trustgate/internal/application/otp"
	"github.com/go-trustgate/internal/application/ratelimit"
	"github.com/go-trustgate/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type PasswordInitRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

type PasswordInitResult struct {
	OK   bool `json:"ok"`
	Sent bool `json:"sent"`
}

// Service runs the primary-factor step of the two-step login.
type Service interface {
	// PasswordInit checks the password, opens the 2FA gate for the email and
	// issues a login code.
	PasswordInit(ctx context.Context, req PasswordInitRequest) (PasswordInitResult, error)
}

// --- dependency interfaces ---

type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
}

type RateLimiter interface {
	Check(ctx context.Context, p ratelimit.Policy, ip, email string) error
}

type MarkerStore interface {
	SetMarker(ctx context.Context, email string, ttl time.Duration)
}

type CodeIssuer interface {
	CreateAndSend(ctx context.Context, p otp.CreateParams) (otp.Result, error)
}

type ServiceDeps struct {
	Credentials    CredentialStore
	Limiter        RateLimiter
	Markers        MarkerStore
	OTP            CodeIssuer
	MarkerTTL      time.Duration
	OTPTTL         time.Duration
	OTPReuseWindow time.Duration
}

type service struct {
	credentials    CredentialStore
	limiter        RateLimiter
	markers        MarkerStore
	otp            CodeIssuer
	markerTTL      time.Duration
	otpTTL         time.Duration
	otpReuseWindow time.Duration
	dummyHash      []byte
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		credentials:    deps.Credentials,
		limiter:        deps.Limiter,
		markers:        deps.Markers,
		otp:            deps.OTP,
		markerTTL:      deps.MarkerTTL,
		otpTTL:         deps.OTPTTL,
		otpReuseWindow: deps.OTPReuseWindow,
	}
	if h, err := bcrypt.GenerateFromPassword([]byte("unused-password"), bcrypt.MinCost); err == nil {
		s.dummyHash = h
	}
	return s
}

var errBadCredentials = fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)

func (s *service) PasswordInit(ctx context.Context, req PasswordInitRequest) (PasswordInitResult, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return PasswordInitResult{}, fmt.Errorf("email and password required: %w", domain.ErrBadRequest)
	}
	if err := s.limiter.Check(ctx, ratelimit.PasswordInit, req.IP, email); err != nil {
		return PasswordInitResult{}, err
	}

	cred, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			return PasswordInitResult{}, errBadCredentials
		}
		return PasswordInitResult{}, fmt.Errorf("load credential: %w", err)
	}
	if cred.PasswordHash == "" || cred.Enable == 0 {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return PasswordInitResult{}, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		return PasswordInitResult{}, errBadCredentials
	}

	s.markers.SetMarker(ctx, email, s.markerTTL)
	res, err := s.otp.CreateAndSend(ctx, otp.CreateParams{
		Email:       email,
		Purpose:     domain.PurposeLogin,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		TTL:         s.otpTTL,
		ReuseWindow: s.otpReuseWindow,
	})
	if err != nil {
		return PasswordInitResult{}, err
	}
	return PasswordInitResult{OK: true, Sent: res.Sent}, nil
}
