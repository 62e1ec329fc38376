package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/http/middleware"
	"github.com/lektoria/auth-service/internal/http/response"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/security"
	"github.com/lektoria/auth-service/internal/service"
)

// genericTokenMessage is what every validation failure collapses to at this
// boundary: which precondition failed stays server side.
const genericTokenMessage = "invalid token"

type AuthHandler struct {
	Auth         *service.AuthService
	Sessions     *service.SessionService
	AbuseGuard   service.AuthAbuseGuard
	CookieCodec  *security.SessionCookieCodec
	SessionTTL   time.Duration
	SecureCookie bool
	Logger       *slog.Logger
}

type signInRequest struct {
	Email string `json:"email"`
}

type tokenChallengeJSON struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func (c tokenChallengeJSON) toChallenge() challenge.Challenge {
	return challenge.Challenge{Type: domain.TokenType(c.Type), Payload: c.Payload}
}

type authorizeRequest struct {
	Email          string              `json:"email"`
	TokenChallenge tokenChallengeJSON  `json:"token_challenge"`
	SecondFactor   *tokenChallengeJSON `json:"second_factor,omitempty"`
}

type denyRequest struct {
	Email          string             `json:"email"`
	TokenChallenge tokenChallengeJSON `json:"token_challenge"`
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	if h.cooldownActive(w, r, service.AuthAbuseScopeSignIn, req.Email) {
		return
	}

	_, authenticated := middleware.UserFromContext(r.Context())
	result, err := h.Auth.SignIn(r.Context(), req.Email, service.RequestMeta{
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
		Authenticated: authenticated,
	})
	if err != nil {
		h.writeAuthError(w, r, "signIn", err)
		return
	}

	if result.SID != "" {
		cookie, err := h.CookieCodec.Encode(result.SID, h.SessionTTL)
		if err != nil {
			h.writeAuthError(w, r, "signIn", fmt.Errorf("%w: %v", autherr.ErrSessionInit, err))
			return
		}
		security.SetSessionCookie(w, cookie, h.SessionTTL, h.SecureCookie)
	}

	observability.Audit(r, "auth.signin", "token_types", len(result.TokenTypes))
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	if h.cooldownActive(w, r, service.AuthAbuseScopeAuthorize, req.Email) {
		return
	}

	challenges := []challenge.Challenge{req.TokenChallenge.toChallenge()}
	if req.SecondFactor != nil {
		challenges = append(challenges, req.SecondFactor.toChallenge())
	}

	user, err := h.Auth.AuthorizeSession(r.Context(), req.Email, challenges)
	if err != nil {
		h.registerFailure(r, service.AuthAbuseScopeAuthorize, req.Email, err)
		h.writeAuthError(w, r, "authorizeSession", err)
		return
	}

	if err := h.AbuseGuard.Reset(r.Context(), service.AuthAbuseScopeAuthorize, req.Email, clientIP(r)); err != nil {
		h.Logger.Warn("abuse guard reset failed", "error", err)
	}
	observability.Audit(r, "auth.authorize", "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, true)
}

func (h *AuthHandler) Deny(w http.ResponseWriter, r *http.Request) {
	var req denyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	if err := h.Auth.DenySession(r.Context(), req.Email, req.TokenChallenge.toChallenge()); err != nil {
		h.registerFailure(r, service.AuthAbuseScopeAuthorize, req.Email, err)
		h.writeAuthError(w, r, "denySession", err)
		return
	}
	observability.Audit(r, "auth.deny")
	response.JSON(w, r, http.StatusOK, true)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusOK, true)
		return
	}
	if err := h.Sessions.DestroySession(r.Context(), session.SID); err != nil {
		if !errors.Is(err, autherr.ErrNoSession) {
			h.writeAuthError(w, r, "signOut", err)
			return
		}
	}
	security.ClearSessionCookie(w, h.SecureCookie)
	observability.Audit(r, "auth.signout")
	response.JSON(w, r, http.StatusOK, true)
}

type unauthorizedSessionView struct {
	SessionID      string    `json:"session_id"`
	Email          string    `json:"email"`
	Phrase         string    `json:"phrase"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (h *AuthHandler) UnauthorizedSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ch := challenge.Challenge{
		Type:    domain.TokenType(q.Get("type")),
		Payload: q.Get("token"),
	}
	email := q.Get("email")

	session, err := h.Auth.UnauthorizedSession(r.Context(), email, ch)
	if err != nil {
		h.writeAuthError(w, r, "unauthorizedSession", err)
		return
	}
	response.JSON(w, r, http.StatusOK, unauthorizedSessionView{
		SessionID:      h.Sessions.OpaqueID(session, session.Email),
		Email:          session.Email,
		Phrase:         session.Phrase,
		UserAgent:      session.UserAgent,
		CreatedAt:      session.CreatedAt,
		TokenExpiresAt: session.TokenExpiresAt,
	})
}

func (h *AuthHandler) cooldownActive(w http.ResponseWriter, r *http.Request, scope service.AuthAbuseScope, email string) bool {
	cooldown, err := h.AbuseGuard.Check(r.Context(), scope, email, clientIP(r))
	if err != nil {
		// fail open: a broken guard must not lock everyone out
		h.Logger.Warn("abuse guard check failed", "error", err)
		return false
	}
	if cooldown > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cooldown.Seconds())+1))
		response.Error(w, r, http.StatusTooManyRequests, "COOLDOWN", "try again later", nil)
		return true
	}
	return false
}

func (h *AuthHandler) registerFailure(r *http.Request, scope service.AuthAbuseScope, email string, err error) {
	if !autherr.IsValidation(err) {
		return
	}
	if _, gerr := h.AbuseGuard.RegisterFailure(r.Context(), scope, email, clientIP(r)); gerr != nil {
		h.Logger.Warn("abuse guard register failed", "error", gerr)
	}
}

// writeAuthError maps the taxonomy onto the wire: validation kinds are an
// expected outcome, logged info and collapsed to one generic message so the
// response does not betray which precondition failed; everything else is a
// malfunction, logged error and equally opaque to the caller.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if autherr.IsValidation(err) {
		h.Logger.InfoContext(r.Context(), op+" rejected", "error", err)
		status := http.StatusBadRequest
		if errors.Is(err, autherr.ErrNoSession) {
			status = http.StatusNotFound
		}
		response.Error(w, r, status, "INVALID_TOKEN", genericTokenMessage, nil)
		return
	}
	h.Logger.ErrorContext(r.Context(), op+" failed", "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
