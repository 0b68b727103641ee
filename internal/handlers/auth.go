package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/services"
	pkghttp "github.com/taskhive/taskhive/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, phone string) (*services.UserInfo, error)
	Login(ctx context.Context, email, password, userAgent, ip string) (*services.LoginResult, error)
	RefreshTokens(ctx context.Context, refreshToken, ip string) (*models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken, ip string) error
	LogoutAllDevices(ctx context.Context, userID, keepSessionID, ip string) (int, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally carries the refresh token so its session can be
// terminated along with the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutAllRequest represents the request body for logging out all devices
type LogoutAllRequest struct {
	KeepCurrent      bool   `json:"keep_current"`
	CurrentSessionID string `json:"current_session_id"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	info, err := h.service.Register(r.Context(), req.Email, req.Password, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, info)
}

// Login handles user login. For MFA-enabled accounts the response carries
// mfa_required=true and no tokens; the client must call the MFA verify
// endpoint to finish.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.Login(r.Context(), req.Email, req.Password, userAgent, ip)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// RefreshToken handles token rotation
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	pair, err := h.service.RefreshTokens(r.Context(), req.RefreshToken, ip)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalid),
			errors.Is(err, models.ErrTokenRevoked),
			errors.Is(err, models.ErrSessionInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid or revoked token")
		case errors.Is(err, models.ErrAccountInactive),
			errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout revokes the caller's tokens and ends the session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := auth.BearerToken(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Missing authorization header")
		return
	}

	// Body is optional; without a refresh token only the access token dies.
	var req LogoutRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.Logout(r.Context(), accessToken, req.RefreshToken, ip); err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalid), errors.Is(err, models.ErrTokenRevoked):
			pkghttp.WriteUnauthorized(w, "Invalid or revoked token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll terminates every session for the authenticated user, optionally
// keeping the current one.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutAllRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	keep := ""
	if req.KeepCurrent {
		keep = req.CurrentSessionID
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	count, err := h.service.LogoutAllDevices(r.Context(), claims.UserID, keep, ip)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"sessions_terminated": count})
}

// writeLoginError maps login failures to responses without leaking which
// part of the credentials was wrong.
func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Email and password are required")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteError(w, http.StatusLocked, "account_locked", err.Error())
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteForbidden(w, "Account is inactive")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
