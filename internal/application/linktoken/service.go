package linktoken

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/observability/metrics"
)

// DefaultTTL is the lifetime of tokens handed out in deep links.
const DefaultTTL = 600 * time.Second

// BotResolver returns the public username of the bot deep links point at.
type BotResolver interface {
	BotUsername(ctx context.Context) (string, error)
}

// Service binds platform users to bot chats through signed deep links.
type Service struct {
	issuer *Issuer
	bots   BotResolver
	ttl    time.Duration
}

func NewService(issuer *Issuer, bots BotResolver, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{issuer: issuer, bots: bots, ttl: ttl}
}

// StartLink returns a deep link that carries a fresh token for userID.
func (s *Service) StartLink(ctx context.Context, userID string) (string, error) {
	if s.bots == nil {
		return "", fmt.Errorf("no bot configured: %w", domain.ErrConfiguration)
	}
	bot, err := s.bots.BotUsername(ctx)
	if err != nil {
		metrics.LinkTokensTotal.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("resolve bot username: %w", err)
	}
	if bot == "" {
		metrics.LinkTokensTotal.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("empty bot username: %w", domain.ErrConfiguration)
	}
	token, err := s.issuer.CreateToken(userID, s.ttl)
	if err != nil {
		metrics.LinkTokensTotal.WithLabelValues("create", "error").Inc()
		return "", err
	}
	metrics.LinkTokensTotal.WithLabelValues("create", "ok").Inc()
	return DeepLink(bot, token), nil
}

// Redeem verifies a token received through the bot and returns its user ID.
func (s *Service) Redeem(token string) (string, error) {
	userID, err := s.issuer.VerifyToken(strings.TrimPrefix(strings.TrimSpace(token), "link_"))
	switch {
	case errors.Is(err, domain.ErrExpiredToken):
		metrics.LinkTokensTotal.WithLabelValues("verify", "expired").Inc()
	case err != nil:
		metrics.LinkTokensTotal.WithLabelValues("verify", "invalid").Inc()
	default:
		metrics.LinkTokensTotal.WithLabelValues("verify", "ok").Inc()
	}
	return userID, err
}

// DeepLink builds the t.me start link for a token.
func DeepLink(bot, token string) string {
	return "https://t.me/" + url.PathEscape(strings.TrimPrefix(bot, "@")) + "?start=link_" + url.QueryEscape(token)
}
