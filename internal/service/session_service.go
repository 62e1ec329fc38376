package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
)

// SessionService covers the session lifecycle around the authorization state
// machine: lookup by presented token, per user enumeration, targeted and bulk
// clearing, and sign-out.
type SessionService struct {
	db       *gorm.DB
	sessions repository.SessionRepository
	users    repository.UserRepository
	tokens   repository.TokenRepository
	keys     *security.Keys
}

func NewSessionService(db *gorm.DB, sessions repository.SessionRepository, users repository.UserRepository, tokens repository.TokenRepository, keys *security.Keys) *SessionService {
	return &SessionService{db: db, sessions: sessions, users: users, tokens: tokens, keys: keys}
}

// SessionByToken resolves the session owning the presented token value. Only
// challenges whose material is stored server side (the email link) can
// resolve a session; a TOTP code deliberately matches nothing.
func (s *SessionService) SessionByToken(ctx context.Context, ch challenge.Challenge, expectedEmail string) (*domain.Session, error) {
	if ch.Payload == "" {
		return nil, autherr.ErrNoSession
	}
	token, err := s.tokens.FindByPayload(ch.Type, ch.Payload)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, autherr.ErrNoSession
		}
		return nil, err
	}
	session, err := s.sessions.FindBySID(token.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, autherr.ErrNoSession
		}
		return nil, err
	}
	if expectedEmail != "" && session.Email != expectedEmail {
		return nil, autherr.ErrQueryEmailMismatch
	}
	return session, nil
}

func (s *SessionService) FindAllUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.sessions.FindAllByUserID(userID)
}

// OpaqueID derives the public identifier a session is addressed by outside
// the service.
func (s *SessionService) OpaqueID(session *domain.Session, email string) string {
	return security.OpaqueSessionID(s.keys.SessionOpaque, session.SID, email)
}

// ClearUserSession deletes the user's session whose derived opaque identifier
// matches. Runs inside one transaction; reports whether a match was found.
func (s *SessionService) ClearUserSession(ctx context.Context, userID, opaqueSessionID string) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		user, err := users.FindByID(userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return autherr.ErrUserNotFound
			}
			return err
		}
		owned, err := sessions.FindAllByUserID(userID)
		if err != nil {
			return err
		}
		for _, session := range owned {
			if security.OpaqueSessionID(s.keys.SessionOpaque, session.SID, user.Email) != opaqueSessionID {
				continue
			}
			if _, err := sessions.Delete(session.SID); err != nil {
				return err
			}
			found = true
			break
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ClearAllUserSessions deletes every session bound to the user in one
// transaction and reports whether any existed.
func (s *SessionService) ClearAllUserSessions(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = s.sessions.WithTx(tx).DeleteAllForUser(userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DestroySession terminates the caller's own session (sign-out).
func (s *SessionService) DestroySession(ctx context.Context, sid string) error {
	ok, err := s.sessions.Delete(sid)
	if err != nil {
		return fmt.Errorf("%w: %v", autherr.ErrDestroySession, err)
	}
	if !ok {
		return autherr.ErrNoSession
	}
	return nil
}
