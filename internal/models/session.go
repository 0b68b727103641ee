package models

import "time"

// Session is one row per authenticated device/token-family. The refresh
// token JTI is replaced on every rotation; the row itself survives until
// logout, logout-all, or expiry.
type Session struct {
	ID                string
	UserID            string
	RefreshTokenJTI   string
	DeviceFingerprint string
	UserAgent         string
	IPAddress         string
	IsActive          bool
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	TerminatedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Valid reports whether the session can still authorize a token refresh.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt) && s.TerminatedAt == nil
}
