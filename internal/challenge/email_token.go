package challenge

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"

	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/mail"
	"github.com/lektoria/auth-service/internal/security"
)

const signInTemplateName = "signin_email_token"

// EmailTokenHandler proves possession of the inbox: an unguessable token
// value is mailed out and must be presented back.
type EmailTokenHandler struct {
	Sender          mail.Sender
	FromAddress     string
	FrontendBaseURL string
}

func (h *EmailTokenHandler) Type() domain.TokenType { return domain.TokenTypeEmail }

func (h *EmailTokenHandler) NewToken(ctx context.Context, session *domain.Session, user *domain.User) (string, error) {
	return security.NewTokenValue()
}

func (h *EmailTokenHandler) Start(ctx context.Context, session *domain.Session, token *domain.Token) error {
	link := fmt.Sprintf("%s/signin?%s", h.FrontendBaseURL, url.Values{
		"email": []string{session.Email},
		"type":  []string{string(token.Type)},
		"token": []string{token.Payload},
	}.Encode())

	err := h.Sender.SendTemplate(ctx, mail.Message{
		To:           session.Email,
		From:         h.FromAddress,
		Subject:      "Sign in",
		TemplateName: signInTemplateName,
		MergeVars: map[string]string{
			"LOGIN_LINK": link,
			"PHRASE":     session.Phrase,
		},
	})
	if err != nil {
		return fmt.Errorf("start email challenge: %w", err)
	}
	return nil
}

func (h *EmailTokenHandler) Validate(ctx context.Context, session *domain.Session, user *domain.User, token *domain.Token, payload string) (bool, error) {
	if payload == "" || token.Payload == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(token.Payload), []byte(payload)) == 1, nil
}
