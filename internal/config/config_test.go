package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 60*time.Second, cfg.OTPReuseWindow)
	assert.Equal(t, 10*time.Minute, cfg.MarkerTTL)
	assert.Equal(t, "otp_challenges", cfg.DynamoTables.OTPChallenges)
}

func TestLoad_DurationFormats(t *testing.T) {
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("MARKER_TTL", "120")
	t.Setenv("OTP_REUSE_WINDOW", "not-a-duration")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 2*time.Minute, cfg.MarkerTTL)
	assert.Equal(t, 60*time.Second, cfg.OTPReuseWindow)
}

func TestLoad_TelegramSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_LINK_SECRET", "explicit")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg := Load()
	assert.Equal(t, "explicit", cfg.Telegram.LinkSecret)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Empty(t, cfg.Telegram.JWTSecret)
}

func TestLoad_TrustedProxies(t *testing.T) {
	assert.Equal(t, []string{"*"}, Load().TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, Load().TrustedProxies)
}
