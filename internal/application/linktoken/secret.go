package linktoken

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-trustgate/internal/domain"
)

// derivedSecretLen is the number of hex characters kept from the bot token digest.
const derivedSecretLen = 32

// Secrets lists the inputs a signing secret can come from, in precedence order.
type Secrets struct {
	LinkSecret   string // dedicated link-token secret
	SharedSecret string // secret shared with the session/JWT subsystem
	AuthSecret   string // web auth secret
	BotToken     string // platform bot token, hashed as a last resort
}

// ResolveSecret picks the signing secret. When only the bot token is
// available the secret is the first 32 hex characters of its SHA-256
// digest. Deployments should provision LinkSecret explicitly rather than
// rely on the derived value.
func ResolveSecret(s Secrets) ([]byte, error) {
	for _, v := range []string{s.LinkSecret, s.SharedSecret, s.AuthSecret} {
		if v = strings.TrimSpace(v); v != "" {
			return []byte(v), nil
		}
	}
	if bot := strings.TrimSpace(s.BotToken); bot != "" {
		sum := sha256.Sum256([]byte(bot))
		return []byte(hex.EncodeToString(sum[:])[:derivedSecretLen]), nil
	}
	return nil, fmt.Errorf("no link token secret or bot token configured: %w", domain.ErrConfiguration)
}
