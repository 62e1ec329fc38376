package service

import (
	"context"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeSignIn    AuthAbuseScope = "signin"
	AuthAbuseScopeAuthorize AuthAbuseScope = "authorize"
)

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// failures from the same (scope, subject, ip).
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func DefaultAuthAbusePolicy() AuthAbusePolicy {
	return AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  15 * time.Minute,
	}
}

// AuthAbuseGuard throttles brute force attempts against the challenge
// endpoints. Check returns the remaining cooldown, zero when clear.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, subject, ip string) error
}

// NoopAuthAbuseGuard is used when no redis backend is configured; every
// check passes.
type NoopAuthAbuseGuard struct{}

func (NoopAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, subject, ip string) error {
	return nil
}
