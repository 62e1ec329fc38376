package challenge

import (
	"context"
	"time"

	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/security"
)

// TOTPHandler checks time based codes against the user's confirmed shared
// secret. Its token rows carry no payload; they only mark the factor as
// pending for the session and bound its validity window.
type TOTPHandler struct {
	Manager *security.TOTPManager
	Now     func() time.Time
}

func (h *TOTPHandler) Type() domain.TokenType { return domain.TokenTypeTOTP }

func (h *TOTPHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *TOTPHandler) NewToken(ctx context.Context, session *domain.Session, user *domain.User) (string, error) {
	return "", nil
}

// Start is a no-op: the code lives on the user's device, nothing is sent.
func (h *TOTPHandler) Start(ctx context.Context, session *domain.Session, token *domain.Token) error {
	return nil
}

func (h *TOTPHandler) Validate(ctx context.Context, session *domain.Session, user *domain.User, token *domain.Token, payload string) (bool, error) {
	if user == nil || !user.HasActiveSecondFactor() {
		return false, nil
	}
	return h.Manager.VerifyCode(*user.TwoFactorSecret, payload, h.now())
}

func (h *TOTPHandler) NewSharedSecret(ctx context.Context, user *domain.User) (string, string, error) {
	secret, err := h.Manager.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	return secret, h.Manager.ProvisionURI(secret, user.Email), nil
}

func (h *TOTPHandler) ValidateSharedSecret(ctx context.Context, user *domain.User, payload string) (bool, error) {
	if user == nil || user.TempTwoFactorSecret == nil || *user.TempTwoFactorSecret == "" {
		return false, nil
	}
	return h.Manager.VerifyCode(*user.TempTwoFactorSecret, payload, h.now())
}
