package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/security/middleware"
	"github.com/yourorg/smartlib/internal/security/ratelimit"
	"github.com/yourorg/smartlib/internal/service"
)

// RegisterRequest represents a new account request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterHandler handles account creation requests
type RegisterHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewRegisterHandler creates a new register handler
func NewRegisterHandler(authService *service.AuthService, logger *slog.Logger) *RegisterHandler {
	return &RegisterHandler{authService: authService, logger: logger}
}

// ServeHTTP handles POST /auth/register requests
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.authService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "username or email already registered"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// LoginRequest represents a login attempt
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler handles login requests with a strict per-client rate limit.
type LoginHandler struct {
	authService *service.AuthService
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(authService *service.AuthService, limiter *ratelimit.Limiter, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{authService: authService, limiter: limiter, logger: logger}
}

// ServeHTTP handles POST /auth/login requests
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if h.limiter != nil && !h.limiter.AllowStrict("login:"+r.RemoteAddr, 10, time.Minute) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many login attempts"})
		return
	}

	result, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "incorrect username or password"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ChangePasswordRequest carries a password rotation
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePasswordHandler rotates the authenticated user's password.
type ChangePasswordHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewChangePasswordHandler creates a new change-password handler
func NewChangePasswordHandler(authService *service.AuthService, logger *slog.Logger) *ChangePasswordHandler {
	return &ChangePasswordHandler{authService: authService, logger: logger}
}

// ServeHTTP handles POST /auth/change-password requests
func (h *ChangePasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.authService.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// MeHandler returns the authenticated user's profile.
type MeHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewMeHandler creates a new profile handler
func NewMeHandler(authService *service.AuthService, logger *slog.Logger) *MeHandler {
	return &MeHandler{authService: authService, logger: logger}
}

// ServeHTTP handles GET /auth/me requests
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.authService.GetUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(user))
}
