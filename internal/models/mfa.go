package models

import "time"

// TOTPSetup is returned once, at setup time. The plaintext secret and backup
// codes are never shown again after the user confirms.
type TOTPSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"` // data:image/png;base64,... URI
	BackupCodes []string `json:"backup_codes"`
}

// MFAStatus is the introspection view of a user's MFA configuration.
type MFAStatus struct {
	Enabled              bool       `json:"enabled"`
	TOTPConfigured       bool       `json:"totp_configured"`
	PhoneVerified        bool       `json:"phone_verified"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	SetupAt              *time.Time `json:"setup_at,omitempty"`
}

// PendingLogin is the transient record written after a successful password
// check for an MFA-enabled user, consumed exactly once by MFA completion.
type PendingLogin struct {
	UserID    string    `json:"user_id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingTOTPSetup holds the plaintext secret and backup codes between setup
// and confirmation. Left to expire if the user never confirms.
type PendingTOTPSetup struct {
	Secret      string   `json:"secret"`
	BackupCodes []string `json:"backup_codes"`
}
