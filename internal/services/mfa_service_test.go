package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/models"
)

type mfaServiceFixture struct {
	service  *MFAService
	userRepo *MockUserRepository
	pending  *MemoryPendingStore
	totp     *auth.TOTPManager
	otpStore *MockOTPStore
	sender   *MockSMSSender
}

func newMFAServiceFixture(userRepo *MockUserRepository) *mfaServiceFixture {
	totpManager, err := auth.NewTOTPManager("test-encryption-secret-32-chars!", "TaskHive")
	if err != nil {
		panic(err)
	}

	otpStore := NewMockOTPStore()
	sender := &MockSMSSender{}
	logger := newTestLogger()
	smsService := NewSMSOTPService(otpStore, sender, testSMSConfig(), logger)
	pending := NewMemoryPendingStore()

	service := NewMFAService(
		userRepo,
		pending,
		totpManager,
		smsService,
		testMFAConfig(),
		logger,
		newTestAuditLogger(),
	)

	return &mfaServiceFixture{
		service:  service,
		userRepo: userRepo,
		pending:  pending,
		totp:     totpManager,
		otpStore: otpStore,
		sender:   sender,
	}
}

// enrollUser runs the full setup + confirm flow and returns the user with
// encrypted MFA material attached, the way a repository read would see it.
func enrollUser(t *testing.T, fx *mfaServiceFixture, user *models.User) *models.TOTPSetup {
	t.Helper()

	fx.userRepo.UpdateMFAFunc = func(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error {
		user.MFAEnabled = enabled
		user.TOTPSecretEncrypted = secret
		user.BackupCodesEncrypted = backupCodes
		user.MFASetupAt = setupAt
		return nil
	}
	fx.userRepo.UpdateBackupCodesFunc = func(ctx context.Context, id string, backupCodes []byte) error {
		user.BackupCodesEncrypted = backupCodes
		return nil
	}

	setup, err := fx.service.SetupTOTP(context.Background(), user)
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, fx.service.VerifyAndEnableTOTP(context.Background(), user, code, "203.0.113.7"))

	return setup
}

// ============================================================================
// TOTP Enrollment Tests
// ============================================================================

func TestMFAService_SetupTOTP(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	persisted := false

	fx := newMFAServiceFixture(&MockUserRepository{
		UpdateMFAFunc: func(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error {
			persisted = true
			return nil
		},
	})

	setup, err := fx.service.SetupTOTP(context.Background(), user)

	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))
	assert.Len(t, setup.BackupCodes, 10)
	for _, code := range setup.BackupCodes {
		assert.Regexp(t, `^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, code)
	}

	// Nothing hits the user record until the code is confirmed.
	assert.False(t, persisted)

	pending, err := fx.pending.GetPendingSetup(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, pending.Secret)
}

func TestMFAService_SetupTOTP_AlreadyEnabled(t *testing.T) {
	user := NewTestUserWithMFA("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	_, err := fx.service.SetupTOTP(context.Background(), user)
	assert.ErrorIs(t, err, models.ErrMFAAlreadyEnabled)
}

func TestMFAService_VerifyAndEnableTOTP_Success(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	enrollUser(t, fx, user)

	assert.True(t, user.MFAEnabled)
	assert.NotEmpty(t, user.TOTPSecretEncrypted)
	assert.NotEmpty(t, user.BackupCodesEncrypted)
	require.NotNil(t, user.MFASetupAt)

	// The pending setup is consumed.
	_, err := fx.pending.GetPendingSetup(context.Background(), "user123")
	assert.ErrorIs(t, err, models.ErrMFASetupNotFound)
}

func TestMFAService_VerifyAndEnableTOTP_WrongCode(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	_, err := fx.service.SetupTOTP(context.Background(), user)
	require.NoError(t, err)

	err = fx.service.VerifyAndEnableTOTP(context.Background(), user, "000000", "")
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)
	assert.False(t, user.MFAEnabled)
}

func TestMFAService_VerifyAndEnableTOTP_NoPendingSetup(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	err := fx.service.VerifyAndEnableTOTP(context.Background(), user, "123456", "")
	assert.ErrorIs(t, err, models.ErrMFASetupNotFound)
}

// ============================================================================
// TOTP Verification Tests
// ============================================================================

func TestMFAService_VerifyTOTPCode_AcceptsDrift(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	// A code from the previous 30s step still verifies (±1 step drift).
	driftCode, err := totp.GenerateCode(setup.Secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)

	ok, err := fx.service.VerifyTOTPCode(context.Background(), user, driftCode)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMFAService_VerifyTOTPCode_RejectsStaleCode(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	staleCode, err := totp.GenerateCode(setup.Secret, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)

	ok, err := fx.service.VerifyTOTPCode(context.Background(), user, staleCode)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMFAService_VerifyTOTPCode_MalformedCode(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	enrollUser(t, fx, user)

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		ok, err := fx.service.VerifyTOTPCode(context.Background(), user, code)
		require.NoError(t, err)
		assert.False(t, ok, "code %q should be rejected", code)
	}
}

func TestMFAService_VerifyTOTPCode_NotEnabled(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	_, err := fx.service.VerifyTOTPCode(context.Background(), user, "123456")
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

func TestMFAService_VerifyTOTPCode_CorruptCiphertext(t *testing.T) {
	user := NewTestUserWithMFA("user123", "user@example.com")
	user.TOTPSecretEncrypted = []byte("garbage")
	fx := newMFAServiceFixture(&MockUserRepository{})

	// Decrypt failure surfaces as an error, not a silent rejection.
	_, err := fx.service.VerifyTOTPCode(context.Background(), user, "123456")
	assert.Error(t, err)
}

// ============================================================================
// Backup Code Tests
// ============================================================================

func TestMFAService_VerifyBackupCode_SingleUse(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	code := setup.BackupCodes[3]

	ok, err := fx.service.VerifyBackupCode(context.Background(), user, code)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consumed: the same code never works twice.
	ok, err = fx.service.VerifyBackupCode(context.Background(), user, code)
	require.NoError(t, err)
	assert.False(t, ok)

	status := fx.service.GetStatus(user)
	assert.Equal(t, 9, status.BackupCodesRemaining)
}

func TestMFAService_VerifyBackupCode_CaseInsensitive(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	ok, err := fx.service.VerifyBackupCode(context.Background(), user, strings.ToLower(setup.BackupCodes[0]))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMFAService_VerifyBackupCode_PersistFailureFailsClosed(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	fx.userRepo.UpdateBackupCodesFunc = func(ctx context.Context, id string, backupCodes []byte) error {
		return errors.New("database down")
	}

	// If the consumed set cannot be persisted, success is not reported.
	ok, err := fx.service.VerifyBackupCode(context.Background(), user, setup.BackupCodes[0])
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestMFAService_RegenerateBackupCodes_InvalidatesOldSet(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	setup := enrollUser(t, fx, user)

	newCodes, err := fx.service.RegenerateBackupCodes(context.Background(), user, "")
	require.NoError(t, err)
	assert.Len(t, newCodes, 10)
	assert.NotEqual(t, setup.BackupCodes, newCodes)

	ok, err := fx.service.VerifyBackupCode(context.Background(), user, setup.BackupCodes[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fx.service.VerifyBackupCode(context.Background(), user, newCodes[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMFAService_RegenerateBackupCodes_NotEnabled(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	_, err := fx.service.RegenerateBackupCodes(context.Background(), user, "")
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

// ============================================================================
// SMS Fallback Tests
// ============================================================================

func TestMFAService_SendSMSCode_RequiresVerifiedPhone(t *testing.T) {
	user := NewTestUserWithMFA("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	err := fx.service.SendSMSCode(context.Background(), user, false)
	assert.ErrorIs(t, err, models.ErrPhoneNotVerified)
}

func TestMFAService_SMSCode_RoundTrip(t *testing.T) {
	user := NewTestUserWithPhone("user123", "user@example.com", testPhone)
	user.MFAEnabled = true
	fx := newMFAServiceFixture(&MockUserRepository{})

	require.NoError(t, fx.service.SendSMSCode(context.Background(), user, false))
	code, ok := fx.otpStore.StoredCode("user123")
	require.True(t, ok)

	verified, err := fx.service.VerifySMSCode(context.Background(), user, code)
	require.NoError(t, err)
	assert.True(t, verified)
}

// ============================================================================
// Phone Verification Tests
// ============================================================================

func TestMFAService_PhoneVerification_RoundTrip(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	var storedPhone string
	var storedVerified bool

	fx := newMFAServiceFixture(&MockUserRepository{
		SetPhoneFunc: func(ctx context.Context, id, phone string, verified bool) error {
			storedPhone = phone
			storedVerified = verified
			return nil
		},
	})

	require.NoError(t, fx.service.SetupPhone(context.Background(), user, testPhone))
	assert.Equal(t, testPhone, storedPhone)
	assert.False(t, storedVerified)
	assert.False(t, user.PhoneVerified)

	code, ok := fx.otpStore.StoredCode("user123")
	require.True(t, ok)

	require.NoError(t, fx.service.VerifyPhone(context.Background(), user, code, "203.0.113.7"))
	assert.True(t, storedVerified)
	assert.True(t, user.PhoneVerified)

	// The verified number now serves the SMS login channel.
	require.NoError(t, fx.service.SendSMSCode(context.Background(), user, false))
}

func TestMFAService_SetupPhone_InvalidNumber(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	err := fx.service.SetupPhone(context.Background(), user, "555-1234")
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, user.Phone)
}

func TestMFAService_VerifyPhone_WrongCode(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	require.NoError(t, fx.service.SetupPhone(context.Background(), user, testPhone))

	err := fx.service.VerifyPhone(context.Background(), user, "000000", "")
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)
	assert.False(t, user.PhoneVerified)
}

func TestMFAService_VerifyPhone_NoPhoneOnAccount(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	err := fx.service.VerifyPhone(context.Background(), user, "123456", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

// ============================================================================
// Disable / Status Tests
// ============================================================================

func TestMFAService_DisableMFA_ClearsMaterial(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})
	enrollUser(t, fx, user)

	require.NoError(t, fx.service.DisableMFA(context.Background(), user, ""))

	assert.False(t, user.MFAEnabled)
	assert.Nil(t, user.TOTPSecretEncrypted)
	assert.Nil(t, user.BackupCodesEncrypted)
}

func TestMFAService_DisableMFA_Idempotent(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	assert.NoError(t, fx.service.DisableMFA(context.Background(), user, ""))
	assert.NoError(t, fx.service.DisableMFA(context.Background(), user, ""))
}

func TestMFAService_GetStatus(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	fx := newMFAServiceFixture(&MockUserRepository{})

	status := fx.service.GetStatus(user)
	assert.False(t, status.Enabled)
	assert.False(t, status.TOTPConfigured)
	assert.Zero(t, status.BackupCodesRemaining)

	enrollUser(t, fx, user)

	status = fx.service.GetStatus(user)
	assert.True(t, status.Enabled)
	assert.True(t, status.TOTPConfigured)
	assert.Equal(t, 10, status.BackupCodesRemaining)
	assert.NotNil(t, status.SetupAt)
}

func TestMFAService_GetStatus_CorruptBackupCodesDegrade(t *testing.T) {
	user := NewTestUserWithMFA("user123", "user@example.com")
	user.TOTPSecretEncrypted = []byte{0x01}
	user.BackupCodesEncrypted = []byte("garbage")
	fx := newMFAServiceFixture(&MockUserRepository{})

	status := fx.service.GetStatus(user)
	assert.True(t, status.Enabled)
	assert.Zero(t, status.BackupCodesRemaining)
}
