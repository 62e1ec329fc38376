package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"gorm.io/gorm"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/mail"
	"github.com/lektoria/auth-service/internal/repository"
)

// NewsletterMover is the boundary to the newsletter platform: subscriptions
// follow an address change. Failures are logged, never propagated.
type NewsletterMover interface {
	MoveSubscriptions(ctx context.Context, oldEmail, newEmail string) error
}

// LogNewsletterMover stands in where no newsletter backend is wired. It
// records the move as a structured log line.
type LogNewsletterMover struct {
	Logger *slog.Logger
}

func (m *LogNewsletterMover) MoveSubscriptions(ctx context.Context, oldEmail, newEmail string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "newsletter subscriptions moved",
		"old_email", oldEmail,
		"new_email", newEmail,
	)
	return nil
}

// AccountService covers mutations on the user record itself: second factor
// provisioning and toggling, and email changes.
type AccountService struct {
	db         *gorm.DB
	users      repository.UserRepository
	sessions   repository.SessionRepository
	registry   *challenge.Registry
	sender     mail.Sender
	newsletter NewsletterMover
	logger     *slog.Logger

	fromAddress     string
	frontendBaseURL string
}

func NewAccountService(
	db *gorm.DB,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	registry *challenge.Registry,
	sender mail.Sender,
	newsletter NewsletterMover,
	logger *slog.Logger,
	fromAddress, frontendBaseURL string,
) *AccountService {
	return &AccountService{
		db:              db,
		users:           users,
		sessions:        sessions,
		registry:        registry,
		sender:          sender,
		newsletter:      newsletter,
		logger:          logger,
		fromAddress:     fromAddress,
		frontendBaseURL: frontendBaseURL,
	}
}

// InitSharedSecret provisions a fresh shared secret for the given factor
// type. The active second factor must be switched off first; the new secret
// stays temporary until its first successful validation.
func (s *AccountService) InitSharedSecret(ctx context.Context, userID string, typ domain.TokenType) (*challenge.SharedSecret, error) {
	user, err := s.findUser(userID)
	if err != nil {
		return nil, err
	}
	if user.IsTwoFactorEnabled {
		return nil, autherr.ErrTwoFactorHasToBeDisabled
	}
	return s.registry.GenerateSharedSecret(ctx, typ, user)
}

// ValidateSharedSecret confirms the provisioned secret with its first code
// and promotes it to the active one.
func (s *AccountService) ValidateSharedSecret(ctx context.Context, userID string, typ domain.TokenType, payload string) (bool, error) {
	user, err := s.findUser(userID)
	if err != nil {
		return false, err
	}
	if _, err := s.registry.ValidateSharedSecret(ctx, typ, user, payload); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateTwoFactorAuthentication switches the second factor requirement.
// Enabling demands a confirmed active secret.
func (s *AccountService) UpdateTwoFactorAuthentication(ctx context.Context, userID string, enabled bool) (*domain.User, error) {
	user, err := s.findUser(userID)
	if err != nil {
		return nil, err
	}
	if enabled == user.IsTwoFactorEnabled {
		if enabled {
			return nil, autherr.ErrTwoFactorAlreadyEnabled
		}
		return nil, autherr.ErrTwoFactorAlreadyDisabled
	}
	if enabled && !user.HasActiveSecondFactor() {
		return nil, autherr.ErrSecondFactorNotReady
	}

	var updated *domain.User
	err = s.db.Transaction(func(tx *gorm.DB) error {
		updated, err = s.users.WithTx(tx).UpdateAndGet(userID, map[string]any{
			"is_two_factor_enabled": enabled,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateEmail moves the account to a new address. All of the user's sessions
// are cleared and the account drops back to unverified inside one
// transaction; both addresses are notified after commit.
func (s *AccountService) UpdateEmail(ctx context.Context, userID, newEmail string) (*domain.User, error) {
	if !ValidEmail(newEmail) {
		return nil, fmt.Errorf("%w: %q", autherr.ErrInvalidEmail, newEmail)
	}
	if _, err := s.users.FindByEmail(newEmail); err == nil {
		return nil, autherr.ErrEmailAlreadyAssigned
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	user, err := s.findUser(userID)
	if err != nil {
		return nil, err
	}
	oldEmail := user.Email

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessions.WithTx(tx).DeleteAllForUser(userID); err != nil {
			return err
		}
		return s.users.WithTx(tx).UpdateFields(userID, map[string]any{
			"email":    newEmail,
			"verified": false,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifyEmailChange(ctx, oldEmail, newEmail)

	if s.newsletter != nil {
		if err := s.newsletter.MoveSubscriptions(ctx, oldEmail, newEmail); err != nil {
			s.logger.Error("newsletter subscription move failed", "error", err)
		}
	}

	return s.users.FindByID(userID)
}

func (s *AccountService) notifyEmailChange(ctx context.Context, oldEmail, newEmail string) {
	loginLink := fmt.Sprintf("%s/account?%s", s.frontendBaseURL, url.Values{"email": []string{newEmail}}.Encode())

	for _, msg := range []mail.Message{
		{
			To:           oldEmail,
			From:         s.fromAddress,
			Subject:      "Your email address was changed",
			TemplateName: "email_change_old_address",
			MergeVars:    map[string]string{"EMAIL": newEmail},
		},
		{
			To:           newEmail,
			From:         s.fromAddress,
			Subject:      "Your email address was changed",
			TemplateName: "email_change_new_address",
			MergeVars:    map[string]string{"LOGIN_LINK": loginLink},
		},
	} {
		if err := s.sender.SendTemplate(ctx, msg); err != nil {
			s.logger.Error("email change notification failed", "to", msg.To, "error", err)
		}
	}
}

func (s *AccountService) findUser(userID string) (*domain.User, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, autherr.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
