package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lektoria/auth-service/internal/autherr"
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

type registryFixture struct {
	db       *gorm.DB
	registry *Registry
	tokens   repository.TokenRepository
	users    repository.UserRepository
	sender   *recordingSender
	totp     *security.TOTPManager
}

func newRegistryFixture(t *testing.T) *registryFixture {
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

	tokens := repository.NewTokenRepository(db)
	users := repository.NewUserRepository(db)
	sender := &recordingSender{}
	totp := security.NewTOTPManager("Lektoria")
	registry := NewRegistry(db, tokens, users, time.Hour,
		&EmailTokenHandler{
			Sender:          sender,
			FromAddress:     "no-reply@lektoria.example",
			FrontendBaseURL: "https://lektoria.example",
		},
		&TOTPHandler{Manager: totp},
	)
	return &registryFixture{db: db, registry: registry, tokens: tokens, users: users, sender: sender, totp: totp}
}

func pendingSession(sid, email string) *domain.Session {
	return &domain.Session{
		SID:            sid,
		Email:          email,
		Phrase:         "quiet heron",
		TokenExpiresAt: time.Now().Add(time.Hour),
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
}

func TestGenerateNewTokenReplacesPending(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	session := pendingSession("sid-1", "alice@example.com")

	first, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, nil)
	if err != nil {
		t.Fatalf("generate first token: %v", err)
	}
	if first.Payload == "" {
		t.Fatal("email token must carry a payload")
	}

	second, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, nil)
	if err != nil {
		t.Fatalf("generate second token: %v", err)
	}

	pending, err := f.tokens.LatestPending("sid-1", domain.TokenTypeEmail, time.Now())
	if err != nil {
		t.Fatalf("latest pending: %v", err)
	}
	if pending.ID != second.ID {
		t.Fatalf("expected only the newest token pending, got %s", pending.ID)
	}
}

func TestGenerateNewTokenUnknownType(t *testing.T) {
	f := newRegistryFixture(t)
	_, err := f.registry.GenerateNewToken(context.Background(), "SMS", pendingSession("sid-2", "bob@example.com"), nil)
	if !errors.Is(err, autherr.ErrUnknownTokenType) {
		t.Fatalf("expected ErrUnknownTokenType, got %v", err)
	}
}

func TestStartChallengeSendsSignInMail(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	session := pendingSession("sid-3", "carol@example.com")

	token, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if err := f.registry.StartChallenge(ctx, session, token); err != nil {
		t.Fatalf("start challenge: %v", err)
	}

	if len(f.sender.messages) != 1 {
		t.Fatalf("expected one mail, got %d", len(f.sender.messages))
	}
	msg := f.sender.messages[0]
	if msg.To != "carol@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	link := msg.MergeVars["LOGIN_LINK"]
	for _, want := range []string{"https://lektoria.example/signin?", "token=" + token.Payload, "type=EMAIL_TOKEN", "email=carol%40example.com"} {
		if !strings.Contains(link, want) {
			t.Fatalf("login link missing %q: %s", want, link)
		}
	}
	if msg.MergeVars["PHRASE"] != session.Phrase {
		t.Fatalf("mail must carry the session phrase, got %q", msg.MergeVars["PHRASE"])
	}
}

func TestValidateChallengeEmailToken(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	session := pendingSession("sid-4", "dave@example.com")

	token, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	ok, err := f.registry.ValidateChallenge(ctx, session, nil, Challenge{Type: domain.TokenTypeEmail, Payload: token.Payload}, "dave@example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatal("matching payload must validate")
	}

	ok, err = f.registry.ValidateChallenge(ctx, session, nil, Challenge{Type: domain.TokenTypeEmail, Payload: "wrong"}, "")
	if err != nil {
		t.Fatalf("validate wrong payload: %v", err)
	}
	if ok {
		t.Fatal("wrong payload must not validate")
	}
}

func TestValidateChallengePreconditions(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	session := pendingSession("sid-5", "eve@example.com")
	token, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeEmail, session, nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	ch := Challenge{Type: domain.TokenTypeEmail, Payload: token.Payload}

	if _, err := f.registry.ValidateChallenge(ctx, session, nil, ch, "other@example.com"); !errors.Is(err, autherr.ErrQueryEmailMismatch) {
		t.Fatalf("expected ErrQueryEmailMismatch, got %v", err)
	}

	if _, err := f.registry.ValidateChallenge(ctx, session, nil, Challenge{Type: "SMS"}, ""); !errors.Is(err, autherr.ErrUnknownTokenType) {
		t.Fatalf("expected ErrUnknownTokenType, got %v", err)
	}

	expired := pendingSession("sid-5", "eve@example.com")
	expired.TokenExpiresAt = time.Now().Add(-time.Minute)
	if _, err := f.registry.ValidateChallenge(ctx, expired, nil, ch, ""); !errors.Is(err, autherr.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired for stale window, got %v", err)
	}

	if err := f.tokens.ExpireAllForSession("sid-5", time.Now()); err != nil {
		t.Fatalf("expire tokens: %v", err)
	}
	if _, err := f.registry.ValidateChallenge(ctx, session, nil, ch, ""); !errors.Is(err, autherr.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired without pending token, got %v", err)
	}
}

func TestValidateChallengeTOTP(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	secret, err := f.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	user := &domain.User{
		ID:                 "user-1",
		Email:              "frank@example.com",
		Verified:           true,
		IsTwoFactorEnabled: true,
		TwoFactorSecret:    &secret,
	}
	if err := f.users.Create(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	session := pendingSession("sid-6", "frank@example.com")
	if _, err := f.registry.GenerateNewToken(ctx, domain.TokenTypeTOTP, session, user); err != nil {
		t.Fatalf("generate totp token: %v", err)
	}

	code, err := f.totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	ok, err := f.registry.ValidateChallenge(ctx, session, user, Challenge{Type: domain.TokenTypeTOTP, Payload: code}, "")
	if err != nil {
		t.Fatalf("validate totp: %v", err)
	}
	if !ok {
		t.Fatal("current code must validate")
	}

	ok, err = f.registry.ValidateChallenge(ctx, session, user, Challenge{Type: domain.TokenTypeTOTP, Payload: "000000"}, "")
	if err != nil {
		t.Fatalf("validate wrong code: %v", err)
	}
	if ok {
		t.Fatal("wrong code must not validate")
	}
}

func TestSharedSecretLifecycle(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	user := &domain.User{ID: "user-2", Email: "grace@example.com", Verified: true}
	if err := f.users.Create(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	provisioned, err := f.registry.GenerateSharedSecret(ctx, domain.TokenTypeTOTP, user)
	if err != nil {
		t.Fatalf("generate shared secret: %v", err)
	}
	if provisioned.Secret == "" || !strings.HasPrefix(provisioned.ProvisionURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning result: %+v", provisioned)
	}
	if provisioned.User.HasActiveSecondFactor() {
		t.Fatal("secret must stay temporary until validated")
	}

	// wrong first code leaves the secret temporary
	if _, err := f.registry.ValidateSharedSecret(ctx, domain.TokenTypeTOTP, provisioned.User, "000001"); !errors.Is(err, autherr.ErrSharedSecretValidation) {
		t.Fatalf("expected ErrSharedSecretValidation, got %v", err)
	}

	code, err := f.totp.CodeAt(provisioned.Secret, time.Now())
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	confirmed, err := f.registry.ValidateSharedSecret(ctx, domain.TokenTypeTOTP, provisioned.User, code)
	if err != nil {
		t.Fatalf("validate shared secret: %v", err)
	}
	if !confirmed.HasActiveSecondFactor() {
		t.Fatal("validated secret must become active")
	}
	if confirmed.TempTwoFactorSecret != nil && *confirmed.TempTwoFactorSecret != "" {
		t.Fatal("temp secret must be cleared after promotion")
	}
}

func TestSharedSecretCapabilityGate(t *testing.T) {
	f := newRegistryFixture(t)
	user := &domain.User{ID: "user-3", Email: "heidi@example.com"}

	if _, err := f.registry.GenerateSharedSecret(context.Background(), domain.TokenTypeEmail, user); !errors.Is(err, autherr.ErrCapabilityNotSupported) {
		t.Fatalf("expected ErrCapabilityNotSupported, got %v", err)
	}
	if _, err := f.registry.ValidateSharedSecret(context.Background(), domain.TokenTypeEmail, user, "x"); !errors.Is(err, autherr.ErrCapabilityNotSupported) {
		t.Fatalf("expected ErrCapabilityNotSupported, got %v", err)
	}
}
