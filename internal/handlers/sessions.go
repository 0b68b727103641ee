package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/models"
	pkghttp "github.com/taskhive/taskhive/pkg/http"
)

// SessionServiceInterface defines the session operations exposed over HTTP
type SessionServiceInterface interface {
	GetUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error)
	TerminateSession(ctx context.Context, userID, sessionID string) error
}

// SessionHandler handles device/session review requests
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// SessionResponse is the client-facing view of a session. The refresh JTI
// stays internal.
type SessionResponse struct {
	ID             string     `json:"id"`
	UserAgent      string     `json:"user_agent"`
	IPAddress      string     `json:"ip_address"`
	IsActive       bool       `json:"is_active"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
}

// List returns the authenticated user's sessions, most recently active
// first. ?active=false includes terminated and expired sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	activeOnly := r.URL.Query().Get("active") != "false"

	sessions, err := h.service.GetUserSessions(r.Context(), claims.UserID, activeOnly)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:             s.ID,
			UserAgent:      s.UserAgent,
			IPAddress:      s.IPAddress,
			IsActive:       s.IsActive,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
			CreatedAt:      s.CreatedAt,
			TerminatedAt:   s.TerminatedAt,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string][]SessionResponse{"sessions": resp})
}

// Terminate ends one of the caller's sessions, revoking its refresh token.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session id is required")
		return
	}

	if err := h.service.TerminateSession(r.Context(), claims.UserID, sessionID); err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			pkghttp.WriteNotFound(w, "Session not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "Not your session")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
