package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lektoria/auth-service/internal/http/response"
)

// RateLimiter is a fixed window per client limiter for the HTTP surface.
// It protects the process, not the accounts; account level throttling is the
// abuse guard's job.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*windowState
	sweep   time.Time
}

type windowState struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*windowState),
		sweep:   time.Now().Add(window),
	}
}

func (l *RateLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweep) {
		for k, st := range l.buckets {
			if now.After(st.resetAt) {
				delete(l.buckets, k)
			}
		}
		l.sweep = now.Add(l.window)
	}

	st, ok := l.buckets[key]
	if !ok || now.After(st.resetAt) {
		l.buckets[key] = &windowState{count: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if st.count >= l.limit {
		return false, time.Until(st.resetAt)
	}
	st.count++
	return true, 0
}

func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			ok, retryAfter := l.allow(key)
			if !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
