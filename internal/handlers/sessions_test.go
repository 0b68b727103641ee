package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/models"
)

func TestSessionList_Success(t *testing.T) {
	now := time.Now()
	mockSessions := &handlers.MockSessionService{
		GetUserSessionsFunc: func(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
			assert.True(t, activeOnly)
			return []*models.Session{
				{
					ID:              "session_1",
					UserID:          userID,
					RefreshTokenJTI: "secret-jti",
					UserAgent:       "laptop",
					IsActive:        true,
					LastActivityAt:  now,
					ExpiresAt:       now.Add(time.Hour),
					CreatedAt:       now,
				},
			}, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.List(w, req)

	var resp map[string][]handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp["sessions"], 1)
	assert.Equal(t, "session_1", resp["sessions"][0].ID)

	// The refresh JTI must never appear in the response body.
	assert.NotContains(t, w.Body.String(), "secret-jti")
}

func TestSessionList_IncludesInactiveOnRequest(t *testing.T) {
	var gotActiveOnly bool
	mockSessions := &handlers.MockSessionService{
		GetUserSessionsFunc: func(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
			gotActiveOnly = activeOnly
			return nil, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions?active=false", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.List(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.False(t, gotActiveOnly)
}

func TestSessionList_Unauthenticated(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{})
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)

	w := httptest.NewRecorder()
	handler.List(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestSessionTerminate_Success(t *testing.T) {
	var gotUserID, gotSessionID string
	mockSessions := &handlers.MockSessionService{
		TerminateSessionFunc: func(ctx context.Context, userID, sessionID string) error {
			gotUserID, gotSessionID = userID, sessionID
			return nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/session_1", nil)
	req = handlers.WithAuthContext(req, testUserID)
	req = handlers.WithURLParam(req, "id", "session_1")

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, testUserID, gotUserID)
	assert.Equal(t, "session_1", gotSessionID)
}

func TestSessionTerminate_NotFound(t *testing.T) {
	mockSessions := &handlers.MockSessionService{
		TerminateSessionFunc: func(ctx context.Context, userID, sessionID string) error {
			return models.ErrSessionNotFound
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/missing", nil)
	req = handlers.WithAuthContext(req, testUserID)
	req = handlers.WithURLParam(req, "id", "missing")

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestSessionTerminate_NotOwner(t *testing.T) {
	mockSessions := &handlers.MockSessionService{
		TerminateSessionFunc: func(ctx context.Context, userID, sessionID string) error {
			return models.ErrForbidden
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/other", nil)
	req = handlers.WithAuthContext(req, testUserID)
	req = handlers.WithURLParam(req, "id", "other")

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}
