package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/mail"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
)

type recordingSender struct {
	messages []mail.Message
}

func (s *recordingSender) SendTemplate(ctx context.Context, msg mail.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) byTemplate(name string) []mail.Message {
	var out []mail.Message
	for _, m := range s.messages {
		if m.TemplateName == name {
			out = append(out, m)
		}
	}
	return out
}

type recordingMover struct {
	moves [][2]string
}

func (m *recordingMover) MoveSubscriptions(ctx context.Context, oldEmail, newEmail string) error {
	m.moves = append(m.moves, [2]string{oldEmail, newEmail})
	return nil
}

type serviceFixture struct {
	db       *gorm.DB
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   repository.TokenRepository
	registry *challenge.Registry
	sender   *recordingSender
	mover    *recordingMover
	totp     *security.TOTPManager
	keys     *security.Keys

	sessionSvc *SessionService
	authSvc    *AuthService
	accountSvc *AccountService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	return newServiceFixtureWithAutoLogin(t, AutoLoginConfig{})
}

func newServiceFixtureWithAutoLogin(t *testing.T, autoLogin AutoLoginConfig) *serviceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Token{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	tokens := repository.NewTokenRepository(db)
	sender := &recordingSender{}
	mover := &recordingMover{}
	totp := security.NewTOTPManager("Lektoria")
	keys, err := security.DeriveKeys("test-master-secret")
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}

	registry := challenge.NewRegistry(db, tokens, users, time.Hour,
		&challenge.EmailTokenHandler{
			Sender:          sender,
			FromAddress:     "no-reply@lektoria.example",
			FrontendBaseURL: "https://lektoria.example",
		},
		&challenge.TOTPHandler{Manager: totp},
	)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessionSvc := NewSessionService(db, sessions, users, tokens, keys)
	authSvc := NewAuthService(db, users, sessions, tokens, registry, sessionSvc, quiet,
		720*time.Hour, time.Hour, autoLogin)
	accountSvc := NewAccountService(db, users, sessions, registry, sender, mover, quiet,
		"no-reply@lektoria.example", "https://lektoria.example")

	return &serviceFixture{
		db:         db,
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		registry:   registry,
		sender:     sender,
		mover:      mover,
		totp:       totp,
		keys:       keys,
		sessionSvc: sessionSvc,
		authSvc:    authSvc,
		accountSvc: accountSvc,
	}
}

// signIn runs a sign-in and returns the result together with the emailed
// token payload.
func (f *serviceFixture) signIn(t *testing.T, email string) (*SignInResult, string) {
	t.Helper()
	res, err := f.authSvc.SignIn(context.Background(), email, RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("sign in %s: %v", email, err)
	}
	token, err := f.tokens.LatestPending(res.SID, domain.TokenTypeEmail, time.Now())
	if err != nil {
		t.Fatalf("pending email token for %s: %v", email, err)
	}
	return res, token.Payload
}
