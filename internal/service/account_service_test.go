package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/domain"
)

func TestInitSharedSecretRequiresDisabledSecondFactor(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	mustProvisionActiveSecret(t, f, "alice@example.com")

	user, err := f.users.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if _, err := f.accountSvc.InitSharedSecret(ctx, user.ID, domain.TokenTypeTOTP); !errors.Is(err, autherr.ErrTwoFactorHasToBeDisabled) {
		t.Fatalf("expected ErrTwoFactorHasToBeDisabled, got %v", err)
	}
}

func TestInitSharedSecretReplacesActiveSecret(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	mustProvisionActiveSecret(t, f, "bob@example.com")

	user, err := f.users.FindByEmail("bob@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if _, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, false); err != nil {
		t.Fatalf("disable 2fa: %v", err)
	}

	provisioned, err := f.accountSvc.InitSharedSecret(ctx, user.ID, domain.TokenTypeTOTP)
	if err != nil {
		t.Fatalf("init replacement secret: %v", err)
	}
	if provisioned.User.HasActiveSecondFactor() {
		t.Fatal("re-provisioning must drop the previously active secret")
	}
	if provisioned.User.TempTwoFactorSecret == nil || *provisioned.User.TempTwoFactorSecret != provisioned.Secret {
		t.Fatal("the new secret must be stored as temporary")
	}
}

func TestUpdateTwoFactorAuthenticationTransitions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := &domain.User{ID: "user-2fa", Email: "carol@example.com", Verified: true}
	if err := f.users.Create(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	// enabling without a confirmed secret
	if _, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, true); !errors.Is(err, autherr.ErrSecondFactorNotReady) {
		t.Fatalf("expected ErrSecondFactorNotReady, got %v", err)
	}
	// disabling what is already disabled
	if _, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, false); !errors.Is(err, autherr.ErrTwoFactorAlreadyDisabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyDisabled, got %v", err)
	}

	// provision, confirm, enable
	provisioned, err := f.accountSvc.InitSharedSecret(ctx, user.ID, domain.TokenTypeTOTP)
	if err != nil {
		t.Fatalf("init shared secret: %v", err)
	}
	code, err := f.totp.CodeAt(provisioned.Secret, time.Now())
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	if _, err := f.accountSvc.ValidateSharedSecret(ctx, user.ID, domain.TokenTypeTOTP, code); err != nil {
		t.Fatalf("validate shared secret: %v", err)
	}
	enabled, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, true)
	if err != nil {
		t.Fatalf("enable 2fa: %v", err)
	}
	if !enabled.IsTwoFactorEnabled {
		t.Fatalf("expected 2fa enabled, got %+v", enabled)
	}

	if _, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, true); !errors.Is(err, autherr.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}

	disabled, err := f.accountSvc.UpdateTwoFactorAuthentication(ctx, user.ID, false)
	if err != nil {
		t.Fatalf("disable 2fa: %v", err)
	}
	if disabled.IsTwoFactorEnabled {
		t.Fatalf("expected 2fa disabled, got %+v", disabled)
	}
}

func TestValidateSharedSecretUnknownUser(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.accountSvc.ValidateSharedSecret(context.Background(), "nobody", domain.TokenTypeTOTP, "000000"); !errors.Is(err, autherr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateEmail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, _ := authorizeUser(t, f, "dave@example.com")

	updated, err := f.accountSvc.UpdateEmail(ctx, user.ID, "dave-new@example.com")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if updated.Email != "dave-new@example.com" {
		t.Fatalf("unexpected email %q", updated.Email)
	}
	if updated.Verified {
		t.Fatal("address change must drop verification")
	}

	remaining, err := f.sessionSvc.FindAllUserSessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("find sessions: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("all sessions must be cleared, %d remain", len(remaining))
	}

	oldNotices := f.sender.byTemplate("email_change_old_address")
	newNotices := f.sender.byTemplate("email_change_new_address")
	if len(oldNotices) != 1 || oldNotices[0].To != "dave@example.com" {
		t.Fatalf("expected notice to the old address, got %+v", oldNotices)
	}
	if len(newNotices) != 1 || newNotices[0].To != "dave-new@example.com" {
		t.Fatalf("expected notice to the new address, got %+v", newNotices)
	}

	if len(f.mover.moves) != 1 || f.mover.moves[0] != [2]string{"dave@example.com", "dave-new@example.com"} {
		t.Fatalf("expected newsletter subscriptions to follow, got %v", f.mover.moves)
	}
}

func TestUpdateEmailRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, _ := authorizeUser(t, f, "eve@example.com")
	authorizeUser(t, f, "taken@example.com")

	if _, err := f.accountSvc.UpdateEmail(ctx, user.ID, "not-an-address"); !errors.Is(err, autherr.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := f.accountSvc.UpdateEmail(ctx, user.ID, "taken@example.com"); !errors.Is(err, autherr.ErrEmailAlreadyAssigned) {
		t.Fatalf("expected ErrEmailAlreadyAssigned, got %v", err)
	}
	if _, err := f.accountSvc.UpdateEmail(ctx, "no-such-user", "fresh@example.com"); !errors.Is(err, autherr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLogNewsletterMover(t *testing.T) {
	var buf bytes.Buffer
	mover := &LogNewsletterMover{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	if err := mover.MoveSubscriptions(context.Background(), "old@example.com", "new@example.com"); err != nil {
		t.Fatalf("move subscriptions: %v", err)
	}
	logged := buf.String()
	if !strings.Contains(logged, "old@example.com") || !strings.Contains(logged, "new@example.com") {
		t.Fatalf("expected both addresses in the log line, got %q", logged)
	}

	// nil logger falls back to the default one
	if err := (&LogNewsletterMover{}).MoveSubscriptions(context.Background(), "a@example.com", "b@example.com"); err != nil {
		t.Fatalf("move with default logger: %v", err)
	}
}
