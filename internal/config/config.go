package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	OTPStore       string // "dynamo" | "memory"

	RedisURL       string
	RedisKeyPrefix string
	RedisOpTimeout time.Duration

	DispatchBackend string // "smtp" | "sns" | "log"
	SMTPHost        string
	SMTPPort        string
	SMTPFrom        string
	SMTPUsername    string
	SMTPPassword    string
	SNSRegion       string
	SNSTopicARN     string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	OTPTTL         time.Duration
	OTPReuseWindow time.Duration
	OTPBcryptCost  int
	MarkerTTL      time.Duration
	LinkTokenTTL   time.Duration

	Telegram Telegram

	AllowedOrigins []string // CORS allowed origins
	TrustedProxies []string // peers allowed to set forwarding headers; "*" trusts all
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	OTPChallenges string
	Users         string
}

// Telegram holds the deep-link settings. The three secret fields are listed
// in resolution order; see linktoken.ResolveSecret.
type Telegram struct {
	LinkSecret    string
	JWTSecret     string
	NextAuthKey   string
	BotToken      string
	BotUsername   string
	WebhookSecret string
	APIBaseURL    string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			OTPChallenges: getEnv("DYNAMO_TABLE_OTP_CHALLENGES", "otp_challenges"),
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
		},
		OTPStore: getEnv("OTP_STORE", "dynamo"),

		RedisURL:       getEnv("REDIS_URL", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "tg:"),
		RedisOpTimeout: getEnvDuration("REDIS_OP_TIMEOUT", 250*time.Millisecond),

		DispatchBackend: getEnv("DISPATCH_BACKEND", "log"),
		SMTPHost:        getEnv("SMTP_HOST", "localhost"),
		SMTPPort:        getEnv("SMTP_PORT", "1025"),
		SMTPFrom:        getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SNSRegion:       getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:     getEnv("SNS_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		OTPTTL:         getEnvDuration("OTP_TTL", 10*time.Minute),
		OTPReuseWindow: getEnvDuration("OTP_REUSE_WINDOW", 60*time.Second),
		OTPBcryptCost:  getEnvInt("OTP_BCRYPT_COST", 10),
		MarkerTTL:      getEnvDuration("MARKER_TTL", 10*time.Minute),
		LinkTokenTTL:   getEnvDuration("LINK_TOKEN_TTL", 10*time.Minute),

		Telegram: Telegram{
			LinkSecret:    getEnv("TELEGRAM_LINK_SECRET", ""),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			NextAuthKey:   getEnv("NEXTAUTH_SECRET", ""),
			BotToken:      getEnv("BOT_TOKEN", ""),
			BotUsername:   getEnv("BOT_USERNAME", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			APIBaseURL:    getEnv("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
		},

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustedProxies: strings.Split(getEnv("TRUSTED_PROXIES", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
