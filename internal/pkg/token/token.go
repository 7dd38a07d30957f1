package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeDigits is the length of every OTP code.
const CodeDigits = 6

// NewNumericCode returns a uniformly random decimal code of the given
// length, zero-padded.
func NewNumericCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// SanitizeCode keeps only the digits of user input and caps the result at
// 10 characters.
func SanitizeCode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 10 {
				break
			}
		}
	}
	return b.String()
}
