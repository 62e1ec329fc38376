package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/http/response"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
)

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// SessionLoader resolves the caller's session cookie into the session row
// and, when the session is authenticated, the user record. It never rejects:
// endpoints decide whether an anonymous caller is acceptable.
func SessionLoader(codec *security.SessionCookieCodec, sessions repository.SessionRepository, users repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, security.SessionCookieName)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			sid, err := codec.Decode(raw)
			if err != nil {
				observability.RecordSessionCookieValidation(r.Context(), "invalid")
				next.ServeHTTP(w, r)
				return
			}
			session, err := sessions.FindBySID(sid)
			if err != nil || session.ExpiresAt.Before(time.Now()) {
				observability.RecordSessionCookieValidation(r.Context(), "stale")
				next.ServeHTTP(w, r)
				return
			}
			observability.RecordSessionCookieValidation(r.Context(), "valid")

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			if session.Authenticated() {
				if user, err := users.FindByID(*session.UserID); err == nil {
					ctx = context.WithValue(ctx, userContextKey, user)
				} else if !errors.Is(err, repository.ErrUserNotFound) {
					response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects callers without an authenticated session.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects authenticated callers lacking the role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
				return
			}
			if !user.HasRole(role) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*domain.Session)
	return s, ok
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(*domain.User)
	return u, ok
}
