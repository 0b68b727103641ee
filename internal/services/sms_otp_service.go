package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/models"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// OTPStore defines the interface for OTP state in Redis
type OTPStore interface {
	StoreOTP(ctx context.Context, userID, code string, ttl time.Duration) error
	GetOTP(ctx context.Context, userID string) (string, bool, error)
	DeleteOTP(ctx context.Context, userID string) error
	IncrementAttempts(ctx context.Context, userID string) (int, error)
	GetAttempts(ctx context.Context, userID string) (int, bool, error)
	IncrementResendCount(ctx context.Context, userID string, window time.Duration) (int, error)
	GetResendCount(ctx context.Context, userID string) (int, error)
	GetOTPTTL(ctx context.Context, userID string) (time.Duration, bool, error)
}

// e164Pattern matches E.164-style numbers: optional +, 8-15 digits, no
// leading zero.
var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

const (
	minOTPLength = 4
	maxOTPLength = 10
)

// SMSOTPService generates, dispatches, and verifies one-time SMS codes.
// Codes are single-use, carry a fixed expiry, and burn after too many
// wrong guesses.
type SMSOTPService struct {
	store  OTPStore
	sender SMSSender
	cfg    config.SMSConfig
	logger *slog.Logger
}

func NewSMSOTPService(store OTPStore, sender SMSSender, cfg config.SMSConfig, logger *slog.Logger) *SMSOTPService {
	return &SMSOTPService{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
	}
}

// GenerateOTP produces a random numeric code of the given length using
// crypto/rand. Lengths outside [4, 10] are rejected before anything is
// stored or dispatched.
func (s *SMSOTPService) GenerateOTP(length int) (string, error) {
	if length < minOTPLength || length > maxOTPLength {
		return "", fmt.Errorf("%w: otp length must be between %d and %d",
			models.ErrBadRequest, minOTPLength, maxOTPLength)
	}

	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate OTP: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// SendOTP generates a fresh code, stores it, and dispatches it to the
// user's phone. A new send replaces any previous outstanding code and
// resets its attempt counter. Resends bypass the rate-limit check and do
// not consume the send window.
func (s *SMSOTPService) SendOTP(ctx context.Context, userID, phone string, resend bool) error {
	if !e164Pattern.MatchString(phone) {
		return fmt.Errorf("%w: invalid phone number format", models.ErrBadRequest)
	}

	if !resend {
		count, err := s.store.GetResendCount(ctx, userID)
		if err != nil {
			// Rate-limit check fails open: an unavailable counter should
			// not block a legitimate login.
			s.logger.Warn("OTP rate-limit check failed, allowing send",
				slog.String("user_id", userID),
				slog.Any("error", err))
		} else if count >= s.cfg.MaxResends {
			return models.ErrOTPRateLimited
		}
	}

	code, err := s.GenerateOTP(s.cfg.OTPLength)
	if err != nil {
		return err
	}

	if err := s.store.StoreOTP(ctx, userID, code, s.cfg.OTPExpiry); err != nil {
		return err
	}

	message := fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.",
		"TaskHive", code, int(s.cfg.OTPExpiry.Minutes()))

	if err := s.sender.SendSMS(ctx, phone, message); err != nil {
		// Roll back the stored code so a failed dispatch doesn't leave a
		// live OTP the user never received.
		if delErr := s.store.DeleteOTP(ctx, userID); delErr != nil {
			s.logger.Error("failed to roll back OTP after dispatch failure",
				slog.String("user_id", userID),
				slog.Any("error", delErr))
		}
		return fmt.Errorf("failed to dispatch OTP: %w", err)
	}

	if !resend {
		if _, err := s.store.IncrementResendCount(ctx, userID, s.cfg.ResendWindow); err != nil {
			s.logger.Warn("failed to increment OTP resend counter",
				slog.String("user_id", userID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("SMS OTP sent",
		slog.String("user_id", userID),
		slog.String("phone", pkglogger.SanitizedPhone(phone)),
		slog.Bool("resend", resend))
	return nil
}

// VerifyOTP checks a submitted code against the stored one. A correct code
// is consumed immediately; a wrong one burns an attempt, and exhausting the
// attempt budget purges the code entirely. Verification fails closed when
// the store is unreachable.
func (s *SMSOTPService) VerifyOTP(ctx context.Context, userID, code string) (bool, error) {
	stored, found, err := s.store.GetOTP(ctx, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, models.ErrOTPNotFound
	}

	attempts, _, err := s.store.GetAttempts(ctx, userID)
	if err != nil {
		return false, err
	}
	if attempts >= s.cfg.MaxVerifyAttempts {
		if delErr := s.store.DeleteOTP(ctx, userID); delErr != nil {
			s.logger.Error("failed to purge exhausted OTP",
				slog.String("user_id", userID),
				slog.Any("error", delErr))
		}
		return false, models.ErrOTPAttemptsExceeded
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		n, incErr := s.store.IncrementAttempts(ctx, userID)
		if incErr != nil {
			return false, incErr
		}
		if n >= s.cfg.MaxVerifyAttempts {
			if delErr := s.store.DeleteOTP(ctx, userID); delErr != nil {
				s.logger.Error("failed to purge exhausted OTP",
					slog.String("user_id", userID),
					slog.Any("error", delErr))
			}
			return false, models.ErrOTPAttemptsExceeded
		}
		return false, nil
	}

	// Single use: consume on success.
	if err := s.store.DeleteOTP(ctx, userID); err != nil {
		return false, err
	}

	s.logger.Info("SMS OTP verified", slog.String("user_id", userID))
	return true, nil
}

// GetOTPTTL reports how long the outstanding code remains valid, or
// (0, false, nil) if there is none.
func (s *SMSOTPService) GetOTPTTL(ctx context.Context, userID string) (time.Duration, bool, error) {
	return s.store.GetOTPTTL(ctx, userID)
}

// CanResend reports whether another send is currently allowed under the
// sliding rate limit.
func (s *SMSOTPService) CanResend(ctx context.Context, userID string) (bool, error) {
	count, err := s.store.GetResendCount(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return true, nil
		}
		return false, err
	}
	return count < s.cfg.MaxResends, nil
}

// RemainingAttempts reports how many verification attempts are left for the
// outstanding code, or (0, false, nil) if no code is outstanding.
func (s *SMSOTPService) RemainingAttempts(ctx context.Context, userID string) (int, bool, error) {
	_, found, err := s.store.GetOTP(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	attempts, _, err := s.store.GetAttempts(ctx, userID)
	if err != nil {
		return 0, false, err
	}

	remaining := s.cfg.MaxVerifyAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}
