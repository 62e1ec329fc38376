package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenValueBytes = 26

// NewTokenValue returns an unguessable URL safe token value for email
// challenges.
func NewTokenValue() (string, error) {
	raw := make([]byte, tokenValueBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
