package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/models"
	pkgauth "github.com/taskhive/taskhive/pkg/auth"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RecordFailedLogin(ctx context.Context, id string, max int, until time.Time) (int, bool, error)
	ResetFailedLogins(ctx context.Context, id string) error
	UnlockAccount(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdateMFA(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error
	UpdateBackupCodes(ctx context.Context, id string, backupCodes []byte) error
	SetPhone(ctx context.Context, id, phone string, verified bool) error
}

// UserInfo is the non-sensitive projection of a user returned with tokens.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	PhoneVerified bool   `json:"phone_verified"`
}

// LoginResult is either a completed login (tokens + session) or an MFA
// challenge the client must answer before any tokens are issued.
type LoginResult struct {
	MFARequired bool              `json:"mfa_required"`
	Tokens      *models.TokenPair `json:"tokens,omitempty"`
	User        *UserInfo         `json:"user,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
}

// AuthService implements registration, login with lockout and MFA gating,
// token refresh, and logout across devices.
type AuthService struct {
	userRepo UserRepository
	sessions *SessionService
	tokens   *auth.TokenManager
	pending  PendingMFAStore
	cfg      config.AuthConfig
	mfaCfg   config.MFAConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

func NewAuthService(
	userRepo UserRepository,
	sessions *SessionService,
	tokens *auth.TokenManager,
	pending PendingMFAStore,
	cfg config.AuthConfig,
	mfaCfg config.MFAConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		tokens:   tokens,
		pending:  pending,
		cfg:      cfg,
		mfaCfg:   mfaCfg,
		logger:   logger,
		audit:    audit,
	}
}

// Register creates a new account. The email is normalized to lower case and
// the password checked against the strength policy before hashing.
func (s *AuthService) Register(ctx context.Context, email, password, phone string) (*UserInfo, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Phone:        phone,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)))

	return userInfo(user), nil
}

// Login verifies credentials and either issues a token pair or, for
// MFA-enabled accounts, parks a pending-login challenge and returns
// MFARequired without any tokens. Failed attempts count toward a time-boxed
// account lock; the generic ErrInvalidCredentials never discloses whether
// the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", models.ErrBadRequest)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login",
				IPAddress:     ip,
				UserAgent:     userAgent,
				Success:       false,
				FailureReason: "unknown email",
			})
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now()
	if user.Locked(now) {
		if user.LockedUntil != nil && !now.Before(*user.LockedUntil) {
			// Lock has expired; clear it and continue with this attempt.
			if err := s.userRepo.UnlockAccount(ctx, user.ID); err != nil {
				return nil, err
			}
			user.IsLocked = false
			user.LockedUntil = nil
			user.FailedLoginAttempts = 0
		} else {
			s.auditLoginFailure(user.ID, ip, userAgent, "account locked")
			if user.LockedUntil != nil {
				return nil, fmt.Errorf("%w until %s", models.ErrAccountLocked,
					user.LockedUntil.UTC().Format(time.RFC3339))
			}
			return nil, models.ErrAccountLocked
		}
	}

	if !user.IsActive {
		s.auditLoginFailure(user.ID, ip, userAgent, "account inactive")
		return nil, models.ErrAccountInactive
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		until := now.Add(s.cfg.LockoutDuration)
		count, wasLocked, recErr := s.userRepo.RecordFailedLogin(ctx, user.ID, s.cfg.MaxFailedLogins, until)
		if recErr != nil {
			s.logger.Error("failed to record failed login",
				slog.String("user_id", user.ID),
				slog.Any("error", recErr))
		} else if wasLocked {
			s.logger.Warn("account locked after repeated failures",
				slog.String("user_id", user.ID),
				slog.Int("failed_attempts", count))
		}

		s.auditLoginFailure(user.ID, ip, userAgent, "wrong password")
		return nil, models.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.userRepo.ResetFailedLogins(ctx, user.ID); err != nil {
			s.logger.Error("failed to reset failed logins",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
	}

	if user.MFAEnabled {
		pending := &models.PendingLogin{
			UserID:    user.ID,
			UserAgent: userAgent,
			IPAddress: ip,
			CreatedAt: now,
		}
		if err := s.pending.SavePendingLogin(ctx, user.ID, pending, s.mfaCfg.PendingLoginTTL); err != nil {
			return nil, err
		}

		s.logger.Info("login awaiting MFA", slog.String("user_id", user.ID))
		return &LoginResult{MFARequired: true, User: userInfo(user)}, nil
	}

	return s.issueLogin(ctx, user, userAgent, ip)
}

// CheckPendingLogin reports whether a password-verified login is awaiting
// MFA. Factor verification must be gated on this so an attacker cannot burn
// backup codes or OTP attempts without first passing the password phase.
func (s *AuthService) CheckPendingLogin(ctx context.Context, userID string) error {
	_, err := s.pending.GetPendingLogin(ctx, userID)
	return err
}

// CompleteMFALogin finishes a login whose password phase already succeeded.
// The caller must have verified an MFA factor first; the pending challenge
// is consumed so it cannot complete a second login.
func (s *AuthService) CompleteMFALogin(ctx context.Context, userID string) (*LoginResult, error) {
	pending, err := s.pending.GetPendingLogin(ctx, userID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	// Account state may have changed since the password phase.
	if user.Locked(time.Now()) {
		return nil, models.ErrAccountLocked
	}
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}

	result, err := s.issueLogin(ctx, user, pending.UserAgent, pending.IPAddress)
	if err != nil {
		return nil, err
	}

	if err := s.pending.DeletePendingLogin(ctx, userID); err != nil {
		s.logger.Warn("failed to delete pending login",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	return result, nil
}

// issueLogin mints a token pair, records the login, and creates the device
// session keyed by the refresh token's JTI.
func (s *AuthService) issueLogin(ctx context.Context, user *models.User, userAgent, ip string) (*LoginResult, error) {
	now := time.Now()

	accessToken, err := s.tokens.CreateAccessToken(user.ID, extraClaims(user))
	if err != nil {
		return nil, err
	}

	refreshToken, refreshClaims, err := s.tokens.CreateRefreshToken(user.ID, "")
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, user.ID, refreshClaims.JTI, "", userAgent, ip, refreshClaims.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.RecordLogin(ctx, user.ID, ip, now); err != nil {
		s.logger.Error("failed to record login",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login",
		UserID:    user.ID,
		SessionID: session.ID,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   true,
	})

	return &LoginResult{
		Tokens: &models.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.tokens.AccessTokenExpiry().Seconds()),
		},
		User:      userInfo(user),
		SessionID: session.ID,
	}, nil
}

// RefreshTokens rotates a refresh token. The session holding the token's
// JTI must still be valid; rotation updates it in place so the session
// survives across rotations while the old token dies.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken, ip string) (*models.TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}
	if user.Locked(time.Now()) {
		return nil, models.ErrAccountLocked
	}

	session, err := s.sessions.GetSessionByJTI(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, models.ErrTokenRevoked
		}
		return nil, err
	}
	if !session.Valid(time.Now()) {
		return nil, models.ErrSessionInvalid
	}

	accessToken, newRefreshToken, newClaims, err := s.tokens.RefreshTokens(ctx, refreshToken, extraClaims(user))
	if err != nil {
		return nil, err
	}

	if err := s.sessions.RotateJTI(ctx, session.ID, newClaims.JTI, ip); err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "token_refresh",
		UserID:    user.ID,
		SessionID: session.ID,
		IPAddress: ip,
		Success:   true,
	})

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTokenExpiry().Seconds()),
	}, nil
}

// Logout revokes the presented tokens for their remaining lifetimes and
// terminates the session tied to the refresh token. A missing session is
// not an error; the tokens are dead either way.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken, ip string) error {
	claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.tokens.BlacklistToken(ctx, claims.JTI, claims.Remaining(now)); err != nil {
		return err
	}

	sessionID := ""
	if refreshToken != "" {
		refreshClaims, err := s.tokens.ValidateRefreshToken(ctx, refreshToken)
		if err == nil {
			if err := s.tokens.BlacklistToken(ctx, refreshClaims.JTI, refreshClaims.Remaining(now)); err != nil {
				return err
			}

			session, err := s.sessions.GetSessionByJTI(ctx, refreshClaims.JTI)
			if err == nil {
				sessionID = session.ID
				if err := s.sessions.TerminateSession(ctx, session.ID); err != nil {
					return err
				}
			} else if !errors.Is(err, models.ErrSessionNotFound) {
				return err
			}
		}
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    claims.UserID,
		SessionID: sessionID,
		IPAddress: ip,
		Success:   true,
	})
	return nil
}

// LogoutAllDevices terminates every active session for the user, optionally
// sparing the caller's own, and blacklists each session's refresh JTI for
// the session's remaining lifetime. Returns the number of sessions ended.
func (s *AuthService) LogoutAllDevices(ctx context.Context, userID, keepSessionID, ip string) (int, error) {
	sessions, err := s.sessions.GetUserSessions(ctx, userID, true)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	terminated := 0
	for _, session := range sessions {
		if session.ID == keepSessionID {
			continue
		}

		if err := s.tokens.BlacklistToken(ctx, session.RefreshTokenJTI, session.ExpiresAt.Sub(now)); err != nil {
			return terminated, err
		}
		if err := s.sessions.TerminateSession(ctx, session.ID); err != nil {
			return terminated, err
		}
		terminated++
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout_all",
		UserID:    userID,
		IPAddress: ip,
		Success:   true,
	})
	return terminated, nil
}

// ValidateAccess verifies an access token end to end and re-checks account
// state, for callers that need more than the middleware's token check.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*UserInfo, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}
	if user.Locked(time.Now()) {
		return nil, models.ErrAccountLocked
	}

	return userInfo(user), nil
}

// RevokeFamily blacklists an entire token family, the response to suspected
// refresh-token theft. Every descendant of the original login dies at once.
func (s *AuthService) RevokeFamily(ctx context.Context, family string) error {
	return s.tokens.BlacklistFamily(ctx, family, s.cfg.RefreshTokenExpiry)
}

// GetUser returns the user record for handlers that need account state.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// GetUserSessions lists the user's sessions for device review.
func (s *AuthService) GetUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
	return s.sessions.GetUserSessions(ctx, userID, activeOnly)
}

// TerminateSession ends one of the user's own sessions. Ownership is
// enforced here, not in the repository.
func (s *AuthService) TerminateSession(ctx context.Context, userID, sessionID string) error {
	session, err := s.sessions.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return err
	}
	if session.UserID != userID {
		return models.ErrForbidden
	}

	if err := s.tokens.BlacklistToken(ctx, session.RefreshTokenJTI, time.Until(session.ExpiresAt)); err != nil {
		return err
	}
	return s.sessions.TerminateSession(ctx, sessionID)
}

func (s *AuthService) auditLoginFailure(userID, ip, userAgent, reason string) {
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login",
		UserID:        userID,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})
}

// extraClaims builds the caller-visible claims embedded in access tokens.
func extraClaims(user *models.User) map[string]any {
	return map[string]any{
		"email":          user.Email,
		"phone_verified": user.PhoneVerified,
	}
}

func userInfo(user *models.User) *UserInfo {
	return &UserInfo{
		ID:            user.ID,
		Email:         user.Email,
		MFAEnabled:    user.MFAEnabled,
		PhoneVerified: user.PhoneVerified,
	}
}
