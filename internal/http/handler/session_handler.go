package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/http/middleware"
	"github.com/lektoria/auth-service/internal/http/response"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/service"
)

type SessionHandler struct {
	Sessions *service.SessionService
	Logger   *slog.Logger
}

type sessionView struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Phrase    string    `json:"phrase"`
	Current   bool      `json:"current"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// targetUserID resolves which user an operation acts on. Acting on another
// user's sessions requires the supporter role.
func targetUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	if other := r.URL.Query().Get("userId"); other != "" && other != user.ID {
		if !user.HasRole(domain.RoleSupporter) {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
			return "", false
		}
		return other, true
	}
	return user.ID, true
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	sessions, err := h.Sessions.FindAllUserSessions(r.Context(), userID)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "list sessions failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}

	current, _ := middleware.SessionFromContext(r.Context())
	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		views = append(views, sessionView{
			ID:        h.Sessions.OpaqueID(s, s.Email),
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Phrase:    s.Phrase,
			Current:   current != nil && current.SID == s.SID,
			ExpiresAt: s.ExpiresAt,
			CreatedAt: s.CreatedAt,
		})
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *SessionHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	opaqueID := chi.URLParam(r, "sessionID")

	found, err := h.Sessions.ClearUserSession(r.Context(), userID, opaqueID)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "clear session failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if !found {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", autherr.ErrNoSession.Error(), nil)
		return
	}
	observability.Audit(r, "session.clear", "target_user_id", userID)
	response.JSON(w, r, http.StatusOK, true)
}

func (h *SessionHandler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	cleared, err := h.Sessions.ClearAllUserSessions(r.Context(), userID)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "clear sessions failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	observability.Audit(r, "session.clear_all", "target_user_id", userID, "cleared", cleared)
	response.JSON(w, r, http.StatusOK, cleared)
}
