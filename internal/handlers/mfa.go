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

// MFA verification methods accepted by the login verify endpoint.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
	MethodSMS        = "sms"
)

// MFAServiceInterface defines the interface for MFA business logic
type MFAServiceInterface interface {
	SetupTOTP(ctx context.Context, user *models.User) (*models.TOTPSetup, error)
	VerifyAndEnableTOTP(ctx context.Context, user *models.User, code, ip string) error
	VerifyTOTPCode(ctx context.Context, user *models.User, code string) (bool, error)
	VerifyBackupCode(ctx context.Context, user *models.User, code string) (bool, error)
	SendSMSCode(ctx context.Context, user *models.User, resend bool) error
	VerifySMSCode(ctx context.Context, user *models.User, code string) (bool, error)
	SetupPhone(ctx context.Context, user *models.User, phone string) error
	VerifyPhone(ctx context.Context, user *models.User, code, ip string) error
	DisableMFA(ctx context.Context, user *models.User, ip string) error
	RegenerateBackupCodes(ctx context.Context, user *models.User, ip string) ([]string, error)
	GetStatus(user *models.User) *models.MFAStatus
}

// MFALoginService is the slice of the auth service the MFA handler needs to
// finish a challenged login.
type MFALoginService interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	CheckPendingLogin(ctx context.Context, userID string) error
	CompleteMFALogin(ctx context.Context, userID string) (*services.LoginResult, error)
}

// MFAHandler handles MFA enrollment and login verification requests
type MFAHandler struct {
	mfa      MFAServiceInterface
	login    MFALoginService
	ipConfig *pkghttp.IPConfig
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(mfa MFAServiceInterface, login MFALoginService, ipConfig *pkghttp.IPConfig) *MFAHandler {
	return &MFAHandler{
		mfa:      mfa,
		login:    login,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// VerifyLoginRequest represents the second factor for a challenged login
type VerifyLoginRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Method string `json:"method" validate:"required,oneof=totp backup_code sms"`
	Code   string `json:"code" validate:"required,min=6,max=14"`
}

// SendLoginSMSRequest represents a request for an SMS code mid-login
type SendLoginSMSRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Resend bool   `json:"resend"`
}

// VerifyTOTPRequest carries the confirmation code that finishes enrollment
type VerifyTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// DisableMFARequest requires a current factor to turn MFA off
type DisableMFARequest struct {
	Code string `json:"code" validate:"required,min=6,max=14"`
}

// SetupPhoneRequest starts phone verification for the SMS fallback channel
type SetupPhoneRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

// VerifyPhoneRequest carries the code that proves possession of the phone
type VerifyPhoneRequest struct {
	Code string `json:"code" validate:"required,min=4,max=10"`
}

// VerifyLogin answers the MFA challenge issued at login. Verification is
// gated on the pending challenge so codes cannot be probed or burned
// without first passing the password phase.
func (h *MFAHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()

	if err := h.login.CheckPendingLogin(ctx, req.UserID); err != nil {
		pkghttp.WriteUnauthorized(w, "MFA session expired, please log in again")
		return
	}

	user, err := h.login.GetUser(ctx, req.UserID)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "MFA session expired, please log in again")
		return
	}

	var verified bool
	switch req.Method {
	case MethodTOTP:
		verified, err = h.mfa.VerifyTOTPCode(ctx, user, req.Code)
	case MethodBackupCode:
		verified, err = h.mfa.VerifyBackupCode(ctx, user, req.Code)
	case MethodSMS:
		verified, err = h.mfa.VerifySMSCode(ctx, user, req.Code)
	}

	if err != nil {
		switch {
		case errors.Is(err, models.ErrOTPAttemptsExceeded):
			pkghttp.WriteTooManyRequests(w, "Too many attempts, request a new code")
		case errors.Is(err, models.ErrOTPNotFound):
			pkghttp.WriteUnauthorized(w, "Code expired, request a new one")
		case errors.Is(err, models.ErrMFANotEnabled), errors.Is(err, models.ErrPhoneNotVerified):
			pkghttp.WriteBadRequest(w, "Verification method not available")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}
	if !verified {
		pkghttp.WriteUnauthorized(w, "Invalid verification code")
		return
	}

	result, err := h.login.CompleteMFALogin(ctx, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFASessionExpired):
			pkghttp.WriteUnauthorized(w, "MFA session expired, please log in again")
		case errors.Is(err, models.ErrAccountLocked), errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// SendLoginSMS dispatches (or re-dispatches) an SMS code for a challenged
// login.
func (h *MFAHandler) SendLoginSMS(w http.ResponseWriter, r *http.Request) {
	var req SendLoginSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()

	if err := h.login.CheckPendingLogin(ctx, req.UserID); err != nil {
		pkghttp.WriteUnauthorized(w, "MFA session expired, please log in again")
		return
	}

	user, err := h.login.GetUser(ctx, req.UserID)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "MFA session expired, please log in again")
		return
	}

	if err := h.mfa.SendSMSCode(ctx, user, req.Resend); err != nil {
		switch {
		case errors.Is(err, models.ErrOTPRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many codes sent, try again later")
		case errors.Is(err, models.ErrPhoneNotVerified):
			pkghttp.WriteBadRequest(w, "No verified phone number on this account")
		default:
			pkghttp.WriteInternalError(w, "Failed to send code")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Code sent"})
}

// Status returns the caller's MFA configuration
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.mfa.GetStatus(user))
}

// SetupTOTP begins TOTP enrollment for the authenticated user
func (h *MFAHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	setup, err := h.mfa.SetupTOTP(r.Context(), user)
	if err != nil {
		if errors.Is(err, models.ErrMFAAlreadyEnabled) {
			pkghttp.WriteConflict(w, "MFA is already enabled")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// VerifyTOTP confirms enrollment and enables MFA
func (h *MFAHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req VerifyTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.mfa.VerifyAndEnableTOTP(r.Context(), user, req.Code, ip); err != nil {
		switch {
		case errors.Is(err, models.ErrMFAAlreadyEnabled):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		case errors.Is(err, models.ErrMFASetupNotFound):
			pkghttp.WriteBadRequest(w, "No setup in progress, start setup again")
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteBadRequest(w, "Invalid code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA enabled"})
}

// SetupPhone stores a phone number on the account and sends a verification
// code to it
func (h *MFAHandler) SetupPhone(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req SetupPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.mfa.SetupPhone(r.Context(), user, req.Phone); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid phone number")
		case errors.Is(err, models.ErrOTPRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many codes sent, try again later")
		default:
			pkghttp.WriteInternalError(w, "Failed to send code")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Verification code sent"})
}

// VerifyPhone marks the phone verified once the user proves possession
func (h *MFAHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req VerifyPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.mfa.VerifyPhone(r.Context(), user, req.Code, ip); err != nil {
		switch {
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteBadRequest(w, "Invalid code")
		case errors.Is(err, models.ErrOTPNotFound):
			pkghttp.WriteBadRequest(w, "Code expired, request a new one")
		case errors.Is(err, models.ErrOTPAttemptsExceeded):
			pkghttp.WriteTooManyRequests(w, "Too many attempts, request a new code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No phone number on this account")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Phone verified"})
}

// Disable turns MFA off. A current TOTP or backup code is required so a
// stolen access token alone cannot strip the second factor.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if user.MFAEnabled {
		var req DisableMFARequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}

		verified, err := h.mfa.VerifyTOTPCode(r.Context(), user, req.Code)
		if err == nil && !verified {
			verified, err = h.mfa.VerifyBackupCode(r.Context(), user, req.Code)
		}
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		if !verified {
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
			return
		}
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.mfa.DisableMFA(r.Context(), user, ip); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

// RegenerateBackupCodes replaces the backup-code set and returns the new
// codes exactly once.
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), user, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		if errors.Is(err, models.ErrMFANotEnabled) {
			pkghttp.WriteBadRequest(w, "MFA is not enabled")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

// currentUser loads the authenticated user's record, writing the error
// response itself on failure.
func (h *MFAHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}

	user, err := h.login.GetUser(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}

	return user, true
}
