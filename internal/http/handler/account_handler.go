package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lektoria/auth-service/internal/autherr"
	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/http/response"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/service"
)

type AccountHandler struct {
	Accounts *service.AccountService
	Logger   *slog.Logger
}

type userView struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Verified           bool      `json:"verified"`
	IsTwoFactorEnabled bool      `json:"is_two_factor_enabled"`
	Roles              []string  `json:"roles"`
	CreatedAt          time.Time `json:"created_at"`
}

func newUserView(u *domain.User) userView {
	roles := []string(u.Roles)
	if roles == nil {
		roles = []string{}
	}
	return userView{
		ID:                 u.ID,
		Email:              u.Email,
		Verified:           u.Verified,
		IsTwoFactorEnabled: u.IsTwoFactorEnabled,
		Roles:              roles,
		CreatedAt:          u.CreatedAt,
	}
}

type sharedSecretRequest struct {
	Type string `json:"type"`
}

type sharedSecretView struct {
	Secret       string `json:"secret"`
	ProvisionURI string `json:"provision_uri"`
}

func (h *AccountHandler) InitSharedSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	var req sharedSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	secret, err := h.Accounts.InitSharedSecret(r.Context(), userID, domain.TokenType(req.Type))
	if err != nil {
		h.writeAccountError(w, r, "initSharedSecret", err)
		return
	}
	observability.Audit(r, "account.shared_secret_init", "target_user_id", userID)
	response.JSON(w, r, http.StatusOK, sharedSecretView{
		Secret:       secret.Secret,
		ProvisionURI: secret.ProvisionURI,
	})
}

type validateSharedSecretRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func (h *AccountHandler) ValidateSharedSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	var req validateSharedSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	valid, err := h.Accounts.ValidateSharedSecret(r.Context(), userID, domain.TokenType(req.Type), req.Payload)
	if err != nil {
		h.writeAccountError(w, r, "validateSharedSecret", err)
		return
	}
	observability.Audit(r, "account.shared_secret_validate", "target_user_id", userID, "valid", valid)
	response.JSON(w, r, http.StatusOK, valid)
}

type updateTwoFactorRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AccountHandler) UpdateTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	var req updateTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	user, err := h.Accounts.UpdateTwoFactorAuthentication(r.Context(), userID, req.Enabled)
	if err != nil {
		h.writeAccountError(w, r, "updateTwoFactor", err)
		return
	}
	observability.Audit(r, "account.two_factor_update", "target_user_id", userID, "enabled", req.Enabled)
	response.JSON(w, r, http.StatusOK, newUserView(user))
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (h *AccountHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	var req updateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}

	user, err := h.Accounts.UpdateEmail(r.Context(), userID, req.Email)
	if err != nil {
		h.writeAccountError(w, r, "updateEmail", err)
		return
	}
	observability.Audit(r, "account.email_update", "target_user_id", userID)
	response.JSON(w, r, http.StatusOK, newUserView(user))
}

// Account errors carry more specific codes than the challenge endpoints:
// these routes sit behind an authenticated session, so telling the caller
// which precondition failed leaks nothing to an attacker.
func (h *AccountHandler) writeAccountError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if autherr.IsValidation(err) {
		h.Logger.InfoContext(r.Context(), op+" rejected", "error", err)
		response.Error(w, r, http.StatusConflict, "PRECONDITION", err.Error(), nil)
		return
	}
	h.Logger.ErrorContext(r.Context(), op+" failed", "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
