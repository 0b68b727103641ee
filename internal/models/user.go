package models

import (
	"time"
)

type User struct {
	ID                   string
	Email                string
	PasswordHash         string
	IsActive             bool
	IsLocked             bool
	LockedUntil          *time.Time // Temporary account lock expiration
	FailedLoginAttempts  int
	MFAEnabled           bool
	TOTPSecretEncrypted  []byte // AES-GCM ciphertext, nil until MFA setup
	BackupCodesEncrypted []byte // Encrypted JSON list, nil until MFA setup
	MFASetupAt           *time.Time
	Phone                string
	PhoneVerified        bool
	LastLoginAt          *time.Time
	LastLoginIP          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Locked reports whether the account is under a time-boxed lock.
func (u *User) Locked(now time.Time) bool {
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return true
	}
	return u.IsLocked
}
