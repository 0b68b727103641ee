package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskhive/taskhive/internal/models"
)

// SessionRepository defines the interface for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByJTI(ctx context.Context, jti string) (*models.Session, error)
	GetByUserID(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error)
	Terminate(ctx context.Context, id string) error
	RotateJTI(ctx context.Context, id, newJTI, ip string) error
	TouchActivity(ctx context.Context, id, ip string) error
}

// SessionService tracks one record per logged-in device/token-family.
type SessionService struct {
	repo   SessionRepository
	logger *slog.Logger
}

func NewSessionService(repo SessionRepository, logger *slog.Logger) *SessionService {
	return &SessionService{repo: repo, logger: logger}
}

// CreateSession records a new device login keyed by the refresh token's JTI.
func (s *SessionService) CreateSession(ctx context.Context, userID, refreshJTI, deviceFingerprint, userAgent, ip string, expiresAt time.Time) (*models.Session, error) {
	session := &models.Session{
		UserID:            userID,
		RefreshTokenJTI:   refreshJTI,
		DeviceFingerprint: deviceFingerprint,
		UserAgent:         userAgent,
		IPAddress:         ip,
		ExpiresAt:         expiresAt,
	}

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("session created",
		slog.String("user_id", userID),
		slog.String("session_id", created.ID))
	return created, nil
}

// GetSessionByJTI returns the session currently holding the given refresh
// JTI, or ErrSessionNotFound.
func (s *SessionService) GetSessionByJTI(ctx context.Context, jti string) (*models.Session, error) {
	session, err := s.repo.GetByJTI(ctx, jti)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// TerminateSession deactivates a session. Terminating one that is already
// terminated succeeds silently.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID string) error {
	if err := s.repo.Terminate(ctx, sessionID); err != nil {
		s.logger.Error("failed to terminate session", slog.String("session_id", sessionID), slog.Any("error", err))
		return err
	}
	return nil
}

// GetUserSessions lists a user's sessions for self-service device review.
func (s *SessionService) GetUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
	return s.repo.GetByUserID(ctx, userID, activeOnly)
}

// RotateJTI replaces the session's refresh JTI after a token rotation and
// bumps last activity.
func (s *SessionService) RotateJTI(ctx context.Context, sessionID, newJTI, ip string) error {
	return s.repo.RotateJTI(ctx, sessionID, newJTI, ip)
}

// UpdateActivity bumps last_activity_at, recording the caller's IP.
func (s *SessionService) UpdateActivity(ctx context.Context, sessionID, ip string) error {
	return s.repo.TouchActivity(ctx, sessionID, ip)
}
