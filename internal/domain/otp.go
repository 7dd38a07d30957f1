package domain

import (
	"strings"
	"time"
)

// Purpose is what an OTP challenge authorizes.
type Purpose string

const (
	PurposeLogin  Purpose = "login"
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// ParsePurpose maps a request value to a Purpose. Unknown or empty values
// fall back to login, which is the strictest purpose (marker required).
func ParsePurpose(s string) Purpose {
	switch Purpose(strings.ToLower(strings.TrimSpace(s))) {
	case PurposeVerify:
		return PurposeVerify
	case PurposeReset:
		return PurposeReset
	default:
		return PurposeLogin
	}
}

func (p Purpose) Valid() bool {
	return p == PurposeLogin || p == PurposeVerify || p == PurposeReset
}

// NormalizeEmail trims and lowercases an address. Every key derived from an
// email (counters, markers, challenges) goes through here.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OTPChallenge is one issued one-time code.
// PK: challenge_key (purpose#email), SK: challenge_id (ULID, sorts by creation time).
// ExpiresAtUnix mirrors ExpiresAt and is the DynamoDB TTL attribute.
type OTPChallenge struct {
	Key           string     `json:"-" dynamodbav:"challenge_key"`
	ChallengeID   string     `json:"id" dynamodbav:"challenge_id"`
	Email         string     `json:"email" dynamodbav:"email"`
	Purpose       Purpose    `json:"purpose" dynamodbav:"purpose"`
	CodeHash      string     `json:"-" dynamodbav:"code_hash"`
	Attempts      int        `json:"attempts" dynamodbav:"attempts"`
	Dispatched    bool       `json:"dispatched" dynamodbav:"dispatched"`
	IP            string     `json:"ip,omitempty" dynamodbav:"ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty" dynamodbav:"user_agent,omitempty"`
	CreatedAt     time.Time  `json:"created" dynamodbav:"created_at"`
	ExpiresAt     time.Time  `json:"expires" dynamodbav:"expires_at_time"`
	ExpiresAtUnix int64      `json:"-" dynamodbav:"expires_at"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty" dynamodbav:"consumed_at,omitempty"`
}

// ChallengeKey is the partition key shared by all challenges of one (email, purpose).
func ChallengeKey(email string, purpose Purpose) string {
	return string(purpose) + "#" + NormalizeEmail(email)
}

// Active reports whether the challenge can still be verified at now.
func (c *OTPChallenge) Active(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}
