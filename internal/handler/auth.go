package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/middleware"
)

type AuthHandler struct {
	svc    *auth.Service
	logger *slog.Logger
}

func NewAuthHandler(svc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// Anonymous handles POST /auth/anonymous
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	in, err := h.svc.SignInAnonymous(r.Context())
	if err != nil {
		writeError(w, h.logger, "anonymous sign-in", err)
		return
	}
	h.signedIn(w, r, http.StatusCreated, in)
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "register", err)
		return
	}
	in, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, "register", err)
		return
	}
	h.signedIn(w, r, http.StatusCreated, in)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "login", err)
		return
	}
	in, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, "login", err)
		return
	}
	h.signedIn(w, r, http.StatusOK, in)
}

// PhoneStart handles POST /auth/phone/start
func (h *AuthHandler) PhoneStart(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "phone start", err)
		return
	}
	if err := h.svc.StartPhone(r.Context(), req.Phone); err != nil {
		writeError(w, h.logger, "phone start", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

// PhoneVerify handles POST /auth/phone/verify
func (h *AuthHandler) PhoneVerify(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "phone verify", err)
		return
	}
	in, err := h.svc.VerifyPhone(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(w, h.logger, "phone verify", err)
		return
	}
	h.signedIn(w, r, http.StatusOK, in)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), auth.SessionID(r.Context())); err != nil {
		writeError(w, h.logger, "logout", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) signedIn(w http.ResponseWriter, r *http.Request, status int, in *auth.SignIn) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    in.Token,
		Path:     "/",
		Expires:  in.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, status, in)
}
