package linktoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/pkg/clock"
)

// MinTTL is the shortest lifetime a token can be issued with.
const MinTTL = 60 * time.Second

// Issuer creates and verifies self-contained link tokens of the form
// userID.expiry.signature, where expiry is a unix timestamp in seconds and
// signature is hex(HMAC-SHA256(secret, payload)).
//
// The secret is fixed for the lifetime of the Issuer. An Issuer built
// without a secret refuses to issue or verify anything.
type Issuer struct {
	secret []byte
	clock  clock.Clock
}

func NewIssuer(secret []byte, c clock.Clock) *Issuer {
	if c == nil {
		c = clock.System
	}
	return &Issuer{secret: secret, clock: c}
}

// Configured reports whether the issuer has a signing secret.
func (i *Issuer) Configured() bool {
	return len(i.secret) > 0
}

func (i *Issuer) CreateToken(userID string, ttl time.Duration) (string, error) {
	if !i.Configured() {
		return "", fmt.Errorf("no link token secret: %w", domain.ErrConfiguration)
	}
	if userID == "" || strings.Contains(userID, ".") {
		return "", fmt.Errorf("user id must be non-empty and contain no '.': %w", domain.ErrBadRequest)
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	expiry := strconv.FormatInt(i.clock.Now().Add(ttl).Unix(), 10)
	return userID + "." + expiry + "." + i.sign(userID, expiry), nil
}

// VerifyToken returns the user ID carried by a valid, unexpired token.
// Failures wrap ErrMalformedToken or ErrExpiredToken, both of which match
// domain.ErrInvalidToken.
func (i *Issuer) VerifyToken(token string) (string, error) {
	if !i.Configured() {
		return "", fmt.Errorf("no link token secret: %w", domain.ErrConfiguration)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", domain.ErrMalformedToken
	}
	userID, expiry, sig := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(i.sign(userID, expiry)), []byte(sig)) {
		return "", domain.ErrMalformedToken
	}
	exp, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return "", domain.ErrMalformedToken
	}
	if i.clock.Now().Unix() > exp {
		return "", domain.ErrExpiredToken
	}
	return userID, nil
}

func (i *Issuer) sign(userID, expiry string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(payload(userID, expiry))
	return hex.EncodeToString(mac.Sum(nil))
}

// payload encodes the signed fields with length prefixes so that no two
// distinct (userID, expiry) pairs share a byte representation.
func payload(userID, expiry string) []byte {
	var b strings.Builder
	b.WriteString("link.v1|")
	b.WriteString(strconv.Itoa(len(userID)))
	b.WriteByte(':')
	b.WriteString(userID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(expiry)))
	b.WriteByte(':')
	b.WriteString(expiry)
	return []byte(b.String())
}
