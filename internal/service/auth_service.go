package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
)

// SignInHook is an externally registered side effect invoked after an
// authorization commits (welcome mail, newsletter linkage). Hooks run
// concurrently; a failing hook is logged and never undoes the commit.
type SignInHook func(ctx context.Context, userID string, isNewlyVerified bool, db *gorm.DB) error

// RequestMeta carries what the transport knows about the caller.
type RequestMeta struct {
	IP            string
	UserAgent     string
	Authenticated bool
}

type SignInResult struct {
	// SID is for the transport to bind the cookie; it never leaves the server.
	SID        string             `json:"-"`
	Phrase     string             `json:"phrase"`
	TokenTypes []domain.TokenType `json:"token_types"`
}

// AutoLoginConfig is the test environment bypass: matching addresses
// self-authorize after Delay instead of going through mail delivery. It is
// explicit configuration, never ambient state, and defaults to disabled.
type AutoLoginConfig struct {
	Enabled bool
	Pattern *regexp.Regexp
	Delay   time.Duration
}

// AuthService is the authorization orchestrator: it drives a session from
// PENDING to AUTHORIZED or DENIED, enforcing second factor policy and the
// transactional guarantees around the transition.
type AuthService struct {
	db         *gorm.DB
	users      repository.UserRepository
	sessions   repository.SessionRepository
	tokens     repository.TokenRepository
	registry   *challenge.Registry
	sessionSvc *SessionService
	logger     *slog.Logger

	sessionTTL time.Duration
	tokenTTL   time.Duration
	autoLogin  AutoLoginConfig

	hooks []SignInHook
	now   func() time.Time
}

func NewAuthService(
	db *gorm.DB,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens repository.TokenRepository,
	registry *challenge.Registry,
	sessionSvc *SessionService,
	logger *slog.Logger,
	sessionTTL, tokenTTL time.Duration,
	autoLogin AutoLoginConfig,
) *AuthService {
	return &AuthService{
		db:         db,
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		registry:   registry,
		sessionSvc: sessionSvc,
		logger:     logger,
		sessionTTL: sessionTTL,
		tokenTTL:   tokenTTL,
		autoLogin:  autoLogin,
		now:        time.Now,
	}
}

// SetClock overrides the service clock; tests only.
func (s *AuthService) SetClock(now func() time.Time) { s.now = now }

// RegisterSignInHook appends a post-commit hook. Not safe to call once the
// service is serving requests.
func (s *AuthService) RegisterSignInHook(hook SignInHook) {
	s.hooks = append(s.hooks, hook)
}

// SignIn opens a pending session for the email and issues its challenges:
// always an email token, plus a TOTP factor when the account has the second
// factor enabled. Callers that already hold an authenticated session get an
// empty result.
func (s *AuthService) SignIn(ctx context.Context, email string, meta RequestMeta) (*SignInResult, error) {
	if meta.Authenticated {
		return &SignInResult{Phrase: "", TokenTypes: []domain.TokenType{}}, nil
	}
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: %q", autherr.ErrInvalidEmail, email)
	}

	user, err := s.users.FindByEmail(email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
	}

	phrase, err := security.NewPhrase()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
	}

	now := s.now()
	session := &domain.Session{
		SID:            uuid.NewString(),
		Email:          email,
		Phrase:         phrase,
		TokenExpiresAt: now.Add(s.tokenTTL),
		UserAgent:      meta.UserAgent,
		IP:             meta.IP,
		ExpiresAt:      now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
	}

	token, err := s.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
	}
	tokenTypes := []domain.TokenType{domain.TokenTypeEmail}

	if s.shouldAutoLogin(email) {
		s.scheduleAutoLogin(email, token.Payload)
	} else {
		if err := s.registry.StartChallenge(ctx, session, token); err != nil {
			return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
		}
		if user != nil && user.IsTwoFactorEnabled {
			second, err := s.registry.GenerateNewToken(ctx, domain.TokenTypeTOTP, session, user)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
			}
			if err := s.registry.StartChallenge(ctx, session, second); err != nil {
				return nil, fmt.Errorf("%w: %v", autherr.ErrSessionInit, err)
			}
			tokenTypes = append(tokenTypes, domain.TokenTypeTOTP)
		}
	}

	observability.RecordSignIn(ctx, "success", len(tokenTypes))
	return &SignInResult{SID: session.SID, Phrase: phrase, TokenTypes: tokenTypes}, nil
}

func (s *AuthService) shouldAutoLogin(email string) bool {
	if !s.autoLogin.Enabled || s.autoLogin.Pattern == nil {
		return false
	}
	m := s.autoLogin.Pattern.FindStringSubmatch(email)
	if m == nil {
		return false
	}
	// addresses whose local part contains "not" are left pending on purpose,
	// so test suites can exercise the unauthorized path too
	if len(m) > 1 && strings.Contains(m[1], "not") {
		return false
	}
	return true
}

func (s *AuthService) scheduleAutoLogin(email, tokenPayload string) {
	s.logger.Warn("auto login scheduled", "email", email, "delay", s.autoLogin.Delay)
	time.AfterFunc(s.autoLogin.Delay, func() {
		_, err := s.AuthorizeSession(context.Background(), email, []challenge.Challenge{
			{Type: domain.TokenTypeEmail, Payload: tokenPayload},
		})
		if err != nil {
			s.logger.Error("auto login failed", "email", email, "error", err)
		}
	})
}

// AuthorizeSession validates the presented challenges against their owning
// session and, if the factor policy is satisfied, promotes the session to
// AUTHORIZED in a single transaction that also force-expires every token the
// session owns. The expiry write is the serialization point: a concurrent
// attempt finds no pending tokens and fails validation.
func (s *AuthService) AuthorizeSession(ctx context.Context, email string, challenges []challenge.Challenge) (*domain.User, error) {
	user, err := s.authorizeSession(ctx, email, challenges)
	if err != nil {
		observability.RecordAuthorization(ctx, outcomeLabel(err))
		return nil, err
	}
	observability.RecordAuthorization(ctx, "authorized")
	return user, nil
}

func (s *AuthService) authorizeSession(ctx context.Context, email string, challenges []challenge.Challenge) (*domain.User, error) {
	if len(challenges) == 0 {
		return nil, fmt.Errorf("%w: no challenges presented", autherr.ErrValidationFailed)
	}

	// resolve the owning session; every resolvable challenge must point at
	// the same one
	var session *domain.Session
	seen := make(map[domain.TokenType]bool, len(challenges))
	for _, ch := range challenges {
		if seen[ch.Type] {
			return nil, fmt.Errorf("%w: duplicate challenge type %s", autherr.ErrValidationFailed, ch.Type)
		}
		seen[ch.Type] = true

		cur, err := s.sessionSvc.SessionByToken(ctx, ch, email)
		switch {
		case err == nil:
			if session != nil && session.SID != cur.SID {
				s.logger.Info("challenges from different sessions", "email", email)
				return nil, fmt.Errorf("%w: cross session challenge mix", autherr.ErrValidationFailed)
			}
			session = cur
		case errors.Is(err, autherr.ErrNoSession):
			// factors without stored material (TOTP) resolve no session
		default:
			return nil, err
		}
	}
	if session == nil {
		return nil, fmt.Errorf("%w: no session resolvable from challenges", autherr.ErrValidationFailed)
	}

	// the factor policy and the TOTP material bind to the session's owner,
	// never to whatever email the caller supplied
	owner, err := s.userByEmail(session.Email)
	if err != nil {
		return nil, err
	}

	validatedTypes := make([]domain.TokenType, 0, len(challenges))
	for _, ch := range challenges {
		ok, err := s.registry.ValidateChallenge(ctx, session, owner, ch, email)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s challenge rejected", autherr.ErrValidationFailed, ch.Type)
		}
		validatedTypes = append(validatedTypes, ch.Type)
	}

	// second factor policy: one valid factor never authorizes a 2FA account
	if owner != nil && owner.IsTwoFactorEnabled && len(validatedTypes) < 2 {
		return nil, fmt.Errorf("%w: second factor required", autherr.ErrValidationFailed)
	}

	user, isNewlyVerified, err := s.upsertUserVerified(ctx, session.Email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		tokens := s.tokens.WithTx(tx)

		locked, err := sessions.FindBySIDForUpdate(session.SID)
		if err != nil {
			return err
		}
		// a competing authorization already consumed the tokens
		for _, typ := range validatedTypes {
			if _, err := tokens.LatestPending(locked.SID, typ, now); err != nil {
				return fmt.Errorf("%w: token already consumed", autherr.ErrTokenExpired)
			}
		}
		if err := sessions.UpdateFields(locked.SID, map[string]any{"user_id": user.ID}); err != nil {
			return err
		}
		return tokens.ExpireAllForSession(locked.SID, now)
	})
	if err != nil {
		if autherr.IsValidation(err) {
			return nil, err
		}
		s.logger.Error("authorization transaction failed", "sid", session.SID, "error", err)
		return nil, fmt.Errorf("%w: %v", autherr.ErrAuthorizationFailed, err)
	}

	s.runSignInHooks(ctx, user.ID, isNewlyVerified)
	return user, nil
}

// DenySession invalidates a pending session after a validated challenge: the
// session stays unbound, expires immediately, and its tokens are consumed.
// The transaction is waited on; success is only reported after commit.
func (s *AuthService) DenySession(ctx context.Context, email string, ch challenge.Challenge) error {
	session, err := s.sessionSvc.SessionByToken(ctx, ch, email)
	if err != nil {
		observability.RecordDenial(ctx, outcomeLabel(err))
		return err
	}
	owner, err := s.userByEmail(session.Email)
	if err != nil {
		observability.RecordDenial(ctx, outcomeLabel(err))
		return err
	}
	ok, err := s.registry.ValidateChallenge(ctx, session, owner, ch, email)
	if err != nil {
		observability.RecordDenial(ctx, outcomeLabel(err))
		return err
	}
	if !ok {
		observability.RecordDenial(ctx, "validation_failed")
		return fmt.Errorf("%w: %s challenge rejected", autherr.ErrValidationFailed, ch.Type)
	}

	now := s.now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		if err := sessions.UpdateFields(session.SID, map[string]any{
			"user_id":    nil,
			"expires_at": now,
		}); err != nil {
			return err
		}
		return s.tokens.WithTx(tx).ExpireAllForSession(session.SID, now)
	})
	if err != nil {
		s.logger.Error("denial transaction failed", "sid", session.SID, "error", err)
		observability.RecordDenial(ctx, "transaction_failed")
		return fmt.Errorf("%w: %v", autherr.ErrAuthorizationFailed, err)
	}
	observability.RecordDenial(ctx, "denied")
	return nil
}

// UnauthorizedSession looks up a pending session by a validated challenge,
// for the client to show what a sign-in link would authorize.
func (s *AuthService) UnauthorizedSession(ctx context.Context, email string, ch challenge.Challenge) (*domain.Session, error) {
	session, err := s.sessionSvc.SessionByToken(ctx, ch, email)
	if err != nil {
		return nil, err
	}
	owner, err := s.userByEmail(session.Email)
	if err != nil {
		return nil, err
	}
	ok, err := s.registry.ValidateChallenge(ctx, session, owner, ch, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s challenge rejected", autherr.ErrValidationFailed, ch.Type)
	}
	return session, nil
}

// userByEmail resolves the account behind an address, nil when none exists.
func (s *AuthService) userByEmail(email string) (*domain.User, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// upsertUserVerified creates the user on first successful email possession
// proof, or flips an existing user to verified. The bool reports whether the
// verification state changed, which hooks use to tell signup from login.
func (s *AuthService) upsertUserVerified(ctx context.Context, email string) (*domain.User, bool, error) {
	var (
		user            *domain.User
		isNewlyVerified bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		existing, err := users.FindByEmail(email)
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return err
		}
		if existing == nil || errors.Is(err, repository.ErrUserNotFound) {
			user = &domain.User{ID: uuid.NewString(), Email: email, Verified: true}
			isNewlyVerified = true
			return users.Create(user)
		}
		user = existing
		if !existing.Verified {
			isNewlyVerified = true
			if err := users.UpdateFields(existing.ID, map[string]any{"verified": true}); err != nil {
				return err
			}
			user.Verified = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", autherr.ErrAuthorizationFailed, err)
	}
	return user, isNewlyVerified, nil
}

func (s *AuthService) runSignInHooks(ctx context.Context, userID string, isNewlyVerified bool) {
	if len(s.hooks) == 0 {
		return
	}
	g := &errgroup.Group{}
	for i, hook := range s.hooks {
		g.Go(func() error {
			if err := hook(ctx, userID, isNewlyVerified, s.db); err != nil {
				s.logger.Warn("sign-in hook failed", "hook", i, "user_id", userID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, autherr.ErrNoSession):
		return "no_session"
	case errors.Is(err, autherr.ErrQueryEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, autherr.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, autherr.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, autherr.ErrAuthorizationFailed):
		return "transaction_failed"
	default:
		return "error"
	}
}

// ValidEmail reports whether the address is a plain mailbox address.
func ValidEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
