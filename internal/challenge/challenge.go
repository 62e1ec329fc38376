// Package challenge implements the proof-of-possession strategies a sign-in
// must satisfy and the dispatcher that routes a token type to its strategy.
package challenge

import (
	"context"

	"github.com/lektoria/auth-service/internal/domain"
)

// Challenge is a presented (type, payload) pair: the emailed token value for
// EMAIL_TOKEN, the six digit code for TOTP.
type Challenge struct {
	Type    domain.TokenType `json:"type"`
	Payload string           `json:"payload"`
}

// Handler is one strategy per token type. NewToken produces the challenge
// material to persist, Start delivers the challenge, Validate checks a
// presented payload. Handlers never touch expiry or email binding; the
// registry enforces those uniformly before delegating.
type Handler interface {
	Type() domain.TokenType
	NewToken(ctx context.Context, session *domain.Session, user *domain.User) (payload string, err error)
	Start(ctx context.Context, session *domain.Session, token *domain.Token) error
	Validate(ctx context.Context, session *domain.Session, user *domain.User, token *domain.Token, payload string) (bool, error)
}

// SharedSecretHandler is the optional provisioning capability. Only factors
// backed by a device bound shared secret implement it.
type SharedSecretHandler interface {
	NewSharedSecret(ctx context.Context, user *domain.User) (secret, provisionURI string, err error)
	ValidateSharedSecret(ctx context.Context, user *domain.User, payload string) (bool, error)
}
