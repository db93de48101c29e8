package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kanisahub/giving-backend/internal/api/httpx"
	"github.com/kanisahub/giving-backend/internal/auth"
)

// AuthHandler issues staff tokens. There is no user administration here;
// the portal manages people elsewhere. The reconciliation core only needs
// one credential: the finance desk that verifies manual payments.
type AuthHandler struct {
	TM           *auth.TokenManager
	StaffEmail   string
	PasswordHash string // bcrypt
}

func NewAuthHandler(tm *auth.TokenManager, staffEmail, passwordHash string) *AuthHandler {
	return &AuthHandler{TM: tm, StaffEmail: staffEmail, PasswordHash: passwordHash}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "email and password required", nil)
		return
	}
	if h.PasswordHash == "" || req.Email != h.StaffEmail ||
		auth.VerifyPassword(req.Password, h.PasswordHash) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
		return
	}

	access, refresh, exp, err := h.TM.GeneratePair(req.Email, "staff")
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Seconds()),
	})
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "refresh_token required", nil)
		return
	}
	claims, isRefresh, err := h.TM.ParseAny(req.RefreshToken)
	if err != nil || !isRefresh {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token", nil)
		return
	}
	access, refresh, exp, err := h.TM.GeneratePair(claims.Subject, claims.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Seconds()),
	})
}
