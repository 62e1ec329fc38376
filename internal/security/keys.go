package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keys holds the purpose bound keys derived from the configured master
// secret. Rotating the master secret invalidates session cookies and the
// opaque session identifiers together.
type Keys struct {
	CookieSigning []byte
	SessionOpaque []byte
}

func DeriveKeys(masterSecret string) (*Keys, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("derive keys: empty master secret")
	}
	cookie, err := deriveKey(masterSecret, "lektoria/auth/cookie-signing/v1")
	if err != nil {
		return nil, err
	}
	opaque, err := deriveKey(masterSecret, "lektoria/auth/session-opaque-id/v1")
	if err != nil {
		return nil, err
	}
	return &Keys{CookieSigning: cookie, SessionOpaque: opaque}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", info, err)
	}
	return key, nil
}
