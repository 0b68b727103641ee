package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and account state errors. ErrInvalidCredentials is
	// deliberately generic: callers must not disclose whether the email or
	// the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")

	// Token errors. Both map to the same "invalid or revoked token"
	// response class; they are distinguished internally for logging.
	ErrTokenInvalid = errors.New("invalid or expired token")
	ErrTokenRevoked = errors.New("token has been revoked")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session is no longer valid")

	// MFA flow errors
	ErrMFARequired        = errors.New("multi-factor authentication required")
	ErrMFAAlreadyEnabled  = errors.New("mfa is already enabled")
	ErrMFANotEnabled      = errors.New("mfa is not enabled")
	ErrMFAInvalidCode     = errors.New("invalid mfa code")
	ErrMFASetupNotFound   = errors.New("no pending mfa setup, start setup again")
	ErrMFASessionExpired  = errors.New("mfa session expired, please log in again")
	ErrPhoneNotVerified   = errors.New("phone number not verified")

	// SMS OTP errors
	ErrOTPNotFound         = errors.New("otp expired or never sent")
	ErrOTPAttemptsExceeded = errors.New("too many otp verification attempts")
	ErrOTPRateLimited      = errors.New("otp resend limit reached, try again later")

	// ErrStoreUnavailable indicates a backend (Postgres/Redis) failure as
	// opposed to a business-rule rejection.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
