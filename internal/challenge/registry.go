package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/repository"
)

// Registry is the challenge dispatcher: it resolves a token type to its
// handler and enforces the preconditions every factor shares (token expiry,
// email binding, at most one pending token per type) exactly once, here.
type Registry struct {
	db       *gorm.DB
	tokens   repository.TokenRepository
	users    repository.UserRepository
	tokenTTL time.Duration
	handlers map[domain.TokenType]Handler
	now      func() time.Time
}

func NewRegistry(db *gorm.DB, tokens repository.TokenRepository, users repository.UserRepository, tokenTTL time.Duration, handlers ...Handler) *Registry {
	m := make(map[domain.TokenType]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Type()] = h
	}
	return &Registry{
		db:       db,
		tokens:   tokens,
		users:    users,
		tokenTTL: tokenTTL,
		handlers: m,
		now:      time.Now,
	}
}

// SetClock overrides the registry clock; tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) handler(typ domain.TokenType) (Handler, error) {
	h, ok := r.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autherr.ErrUnknownTokenType, typ)
	}
	return h, nil
}

// GenerateNewToken creates and persists a fresh token of the given type for
// the session, force-expiring any prior pending token of the same type.
func (r *Registry) GenerateNewToken(ctx context.Context, typ domain.TokenType, session *domain.Session, user *domain.User) (*domain.Token, error) {
	h, err := r.handler(typ)
	if err != nil {
		return nil, err
	}
	payload, err := h.NewToken(ctx, session, user)
	if err != nil {
		return nil, fmt.Errorf("generate %s token: %w", typ, err)
	}

	now := r.now()
	token := &domain.Token{
		ID:        uuid.NewString(),
		SessionID: session.SID,
		Email:     session.Email,
		Type:      typ,
		Payload:   payload,
		ExpiresAt: now.Add(r.tokenTTL),
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		tokens := r.tokens.WithTx(tx)
		if err := tokens.ExpirePending(session.SID, typ, now); err != nil {
			return err
		}
		return tokens.Create(token)
	})
	if err != nil {
		return nil, fmt.Errorf("persist %s token: %w", typ, err)
	}
	return token, nil
}

func (r *Registry) StartChallenge(ctx context.Context, session *domain.Session, token *domain.Token) error {
	h, err := r.handler(token.Type)
	if err != nil {
		return err
	}
	return h.Start(ctx, session, token)
}

// ValidateChallenge checks a presented challenge against the session's
// pending token of that type. Precondition failures surface as typed errors;
// a wrong payload is a plain false.
func (r *Registry) ValidateChallenge(ctx context.Context, session *domain.Session, user *domain.User, ch Challenge, emailFromQuery string) (bool, error) {
	h, err := r.handler(ch.Type)
	if err != nil {
		return false, err
	}

	now := r.now()
	if session.TokenExpiresAt.Before(now) {
		return false, fmt.Errorf("%w: session %s", autherr.ErrTokenExpired, session.SID)
	}
	// emailFromQuery may be empty for links issued before the email was
	// carried in the query.
	if emailFromQuery != "" && session.Email != emailFromQuery {
		return false, autherr.ErrQueryEmailMismatch
	}

	token, err := r.tokens.LatestPending(session.SID, ch.Type, now)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return false, fmt.Errorf("%w: no pending %s token", autherr.ErrTokenExpired, ch.Type)
		}
		return false, err
	}
	return h.Validate(ctx, session, user, token, ch.Payload)
}

// SharedSecret is the provisioning result handed back to the caller; the
// secret is shown exactly once.
type SharedSecret struct {
	User         *domain.User
	Secret       string
	ProvisionURI string
}

// GenerateSharedSecret provisions a new shared secret for the user. The
// secret is stored as the temporary one and any previously confirmed secret
// is dropped; nothing becomes active before the first successful validation.
func (r *Registry) GenerateSharedSecret(ctx context.Context, typ domain.TokenType, user *domain.User) (*SharedSecret, error) {
	h, err := r.handler(typ)
	if err != nil {
		return nil, err
	}
	sh, ok := h.(SharedSecretHandler)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no shared secret", autherr.ErrCapabilityNotSupported, typ)
	}

	secret, uri, err := sh.NewSharedSecret(ctx, user)
	if err != nil || secret == "" {
		return nil, fmt.Errorf("%w: %v", autherr.ErrSharedSecretGeneration, err)
	}

	updated, err := r.users.UpdateAndGet(user.ID, map[string]any{
		"temp_two_factor_secret": secret,
		"two_factor_secret":      nil,
	})
	if err != nil {
		return nil, fmt.Errorf("store temp shared secret: %w", err)
	}
	return &SharedSecret{User: updated, Secret: secret, ProvisionURI: uri}, nil
}

// ValidateSharedSecret checks the first code produced from the temporary
// secret and, on success, promotes temp to active in one transaction.
func (r *Registry) ValidateSharedSecret(ctx context.Context, typ domain.TokenType, user *domain.User, payload string) (*domain.User, error) {
	h, err := r.handler(typ)
	if err != nil {
		return nil, err
	}
	sh, ok := h.(SharedSecretHandler)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no shared secret", autherr.ErrCapabilityNotSupported, typ)
	}

	valid, err := sh.ValidateSharedSecret(ctx, user, payload)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, autherr.ErrSharedSecretValidation
	}

	var updated *domain.User
	err = r.db.Transaction(func(tx *gorm.DB) error {
		users := r.users.WithTx(tx)
		current, err := users.FindByID(user.ID)
		if err != nil {
			return err
		}
		if current.TempTwoFactorSecret == nil || *current.TempTwoFactorSecret == "" {
			return autherr.ErrSharedSecretValidation
		}
		updated, err = users.UpdateAndGet(user.ID, map[string]any{
			"temp_two_factor_secret": nil,
			"two_factor_secret":      *current.TempTwoFactorSecret,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
