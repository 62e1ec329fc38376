package service

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAuthAbuseGuard keeps the failure counters in redis so cooldowns hold
// across instances. Redis being down never locks users out: errors are
// surfaced and callers fail open.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	ttl, err := g.client.PTTL(ctx, g.cooldownKey(scope, subject, ip)).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	countKey := g.countKey(scope, subject, ip)

	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, g.policy.ResetWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	failures := int(incr.Val())
	if failures <= g.policy.FreeAttempts {
		return 0, nil
	}

	exponent := float64(failures - g.policy.FreeAttempts - 1)
	delay := time.Duration(float64(g.policy.BaseDelay) * math.Pow(g.policy.Multiplier, exponent))
	if delay > g.policy.MaxDelay {
		delay = g.policy.MaxDelay
	}
	if err := g.client.Set(ctx, g.cooldownKey(scope, subject, ip), failures, delay).Err(); err != nil {
		return 0, err
	}
	return delay, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, subject, ip string) error {
	return g.client.Del(ctx,
		g.countKey(scope, subject, ip),
		g.cooldownKey(scope, subject, ip),
	).Err()
}

func (g *RedisAuthAbuseGuard) countKey(scope AuthAbuseScope, subject, ip string) string {
	return g.prefix + ":count:" + string(scope) + ":" + subject + ":" + ip
}

func (g *RedisAuthAbuseGuard) cooldownKey(scope AuthAbuseScope, subject, ip string) string {
	return g.prefix + ":cooldown:" + string(scope) + ":" + subject + ":" + ip
}
