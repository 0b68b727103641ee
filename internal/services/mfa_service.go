package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/models"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// totpDriftWindow allows ±1 time step (30s) of clock drift between the
// server and the authenticator app.
const totpDriftWindow = 1

// PendingMFAStore defines the interface for transient MFA state in Redis
type PendingMFAStore interface {
	SavePendingLogin(ctx context.Context, userID string, pending *models.PendingLogin, ttl time.Duration) error
	GetPendingLogin(ctx context.Context, userID string) (*models.PendingLogin, error)
	DeletePendingLogin(ctx context.Context, userID string) error
	SavePendingSetup(ctx context.Context, userID string, setup *models.PendingTOTPSetup, ttl time.Duration) error
	GetPendingSetup(ctx context.Context, userID string) (*models.PendingTOTPSetup, error)
	DeletePendingSetup(ctx context.Context, userID string) error
}

// MFAService coordinates TOTP enrollment, backup codes, and the SMS
// fallback channel. Secrets are encrypted before they ever reach Postgres;
// the plaintext secret and backup codes are shown to the user exactly once.
type MFAService struct {
	userRepo UserRepository
	pending  PendingMFAStore
	totp     *auth.TOTPManager
	sms      *SMSOTPService
	cfg      config.MFAConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

func NewMFAService(
	userRepo UserRepository,
	pending PendingMFAStore,
	totp *auth.TOTPManager,
	sms *SMSOTPService,
	cfg config.MFAConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		userRepo: userRepo,
		pending:  pending,
		totp:     totp,
		sms:      sms,
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
	}
}

// SetupTOTP begins TOTP enrollment: it generates a secret, backup codes,
// and a provisioning QR code, and parks them in Redis until the user
// confirms with a valid code. Nothing is persisted to the user record yet.
func (s *MFAService) SetupTOTP(ctx context.Context, user *models.User) (*models.TOTPSetup, error) {
	if user.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	backupCodes, err := s.totp.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	qrCode, err := s.totp.GenerateQRCode(secret, user.Email)
	if err != nil {
		return nil, err
	}

	setup := &models.PendingTOTPSetup{
		Secret:      secret,
		BackupCodes: backupCodes,
	}
	if err := s.pending.SavePendingSetup(ctx, user.ID, setup, s.cfg.PendingSetupTTL); err != nil {
		return nil, err
	}

	s.logger.Info("TOTP setup started", slog.String("user_id", user.ID))

	return &models.TOTPSetup{
		Secret:      secret,
		QRCode:      qrCode,
		BackupCodes: backupCodes,
	}, nil
}

// VerifyAndEnableTOTP confirms enrollment with a code from the user's
// authenticator. On success the encrypted secret and backup codes are
// persisted atomically with the enabled flag.
func (s *MFAService) VerifyAndEnableTOTP(ctx context.Context, user *models.User, code, ip string) error {
	if user.MFAEnabled {
		return models.ErrMFAAlreadyEnabled
	}

	setup, err := s.pending.GetPendingSetup(ctx, user.ID)
	if err != nil {
		return err
	}

	valid, err := s.totp.VerifyToken(setup.Secret, code, totpDriftWindow)
	if err != nil {
		return err
	}
	if !valid {
		return models.ErrMFAInvalidCode
	}

	encryptedSecret, err := s.totp.EncryptSecret(setup.Secret)
	if err != nil {
		return err
	}
	encryptedCodes, err := s.totp.EncryptBackupCodes(setup.BackupCodes)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.userRepo.UpdateMFA(ctx, user.ID, true, encryptedSecret, encryptedCodes, &now); err != nil {
		return err
	}

	if err := s.pending.DeletePendingSetup(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete pending TOTP setup",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.audit.LogMFAChange("mfa_enabled", user.ID, ip)
	return nil
}

// VerifyTOTPCode checks a login-time TOTP code. A decrypt failure is
// surfaced as an error, never as a silent rejection, so corruption of the
// stored secret is visible.
func (s *MFAService) VerifyTOTPCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.MFAEnabled || len(user.TOTPSecretEncrypted) == 0 {
		return false, models.ErrMFANotEnabled
	}

	secret, err := s.totp.DecryptSecret(user.TOTPSecretEncrypted)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return false, err
	}

	return s.totp.VerifyToken(secret, code, totpDriftWindow)
}

// VerifyBackupCode checks a recovery code and, on match, persists the
// reduced set before reporting success so a code can never be replayed.
func (s *MFAService) VerifyBackupCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.MFAEnabled || len(user.BackupCodesEncrypted) == 0 {
		return false, models.ErrMFANotEnabled
	}

	matched, remaining, err := s.totp.VerifyBackupCode(user.BackupCodesEncrypted, code)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, nil
	}

	if err := s.userRepo.UpdateBackupCodes(ctx, user.ID, remaining); err != nil {
		// Fail closed: if the consumed code cannot be persisted, the login
		// must not proceed, or the code would be reusable.
		return false, err
	}

	s.logger.Info("backup code consumed", slog.String("user_id", user.ID))
	return true, nil
}

// SetupPhone stores a new phone number unverified and dispatches a
// verification code to it. The number only becomes usable as an MFA
// channel once VerifyPhone confirms possession.
func (s *MFAService) SetupPhone(ctx context.Context, user *models.User, phone string) error {
	if !e164Pattern.MatchString(phone) {
		return fmt.Errorf("%w: invalid phone number format", models.ErrBadRequest)
	}

	if err := s.userRepo.SetPhone(ctx, user.ID, phone, false); err != nil {
		return err
	}
	user.Phone = phone
	user.PhoneVerified = false

	if err := s.sms.SendOTP(ctx, user.ID, phone, false); err != nil {
		return err
	}

	s.logger.Info("phone verification started", slog.String("user_id", user.ID))
	return nil
}

// VerifyPhone confirms possession of the number set up with SetupPhone and
// marks it verified, unlocking the SMS fallback channel.
func (s *MFAService) VerifyPhone(ctx context.Context, user *models.User, code, ip string) error {
	if user.Phone == "" {
		return fmt.Errorf("%w: no phone number on the account", models.ErrBadRequest)
	}

	ok, err := s.sms.VerifyOTP(ctx, user.ID, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrMFAInvalidCode
	}

	if err := s.userRepo.SetPhone(ctx, user.ID, user.Phone, true); err != nil {
		return err
	}
	user.PhoneVerified = true

	s.audit.LogMFAChange("phone_verified", user.ID, ip)
	return nil
}

// SendSMSCode dispatches a login OTP over the SMS fallback channel. Only
// available to users with a verified phone number.
func (s *MFAService) SendSMSCode(ctx context.Context, user *models.User, resend bool) error {
	if !user.PhoneVerified || user.Phone == "" {
		return models.ErrPhoneNotVerified
	}
	return s.sms.SendOTP(ctx, user.ID, user.Phone, resend)
}

// VerifySMSCode checks a login OTP sent over SMS.
func (s *MFAService) VerifySMSCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.PhoneVerified {
		return false, models.ErrPhoneNotVerified
	}
	return s.sms.VerifyOTP(ctx, user.ID, code)
}

// DisableMFA clears all MFA material. Disabling when already disabled is a
// no-op, not an error.
func (s *MFAService) DisableMFA(ctx context.Context, user *models.User, ip string) error {
	if err := s.userRepo.UpdateMFA(ctx, user.ID, false, nil, nil, nil); err != nil {
		return err
	}

	if err := s.pending.DeletePendingSetup(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete pending TOTP setup",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	if user.MFAEnabled {
		s.audit.LogMFAChange("mfa_disabled", user.ID, ip)
	}
	return nil
}

// RegenerateBackupCodes replaces the entire backup-code set, invalidating
// any unused codes from the previous set.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, user *models.User, ip string) ([]string, error) {
	if !user.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	codes, err := s.totp.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.totp.EncryptBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateBackupCodes(ctx, user.ID, encrypted); err != nil {
		return nil, err
	}

	s.audit.LogMFAChange("backup_codes_regenerated", user.ID, ip)
	return codes, nil
}

// GetStatus reports the user's MFA configuration without exposing secrets.
// An undecryptable backup-code blob degrades the remaining count to zero
// rather than failing the whole status call.
func (s *MFAService) GetStatus(user *models.User) *models.MFAStatus {
	status := &models.MFAStatus{
		Enabled:        user.MFAEnabled,
		TOTPConfigured: len(user.TOTPSecretEncrypted) > 0,
		PhoneVerified:  user.PhoneVerified,
		SetupAt:        user.MFASetupAt,
	}

	if len(user.BackupCodesEncrypted) > 0 {
		codes, err := s.totp.DecryptBackupCodes(user.BackupCodesEncrypted)
		if err != nil {
			s.logger.Warn("failed to decrypt backup codes for status",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		} else {
			status.BackupCodesRemaining = len(codes)
		}
	}

	return status
}
