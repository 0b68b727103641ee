package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/services"
)

const testUserID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"

func pendingLoginService(user *models.User) *handlers.MockMFALoginService {
	return &handlers.MockMFALoginService{
		GetUserFunc: func(ctx context.Context, userID string) (*models.User, error) {
			return user, nil
		},
		CheckPendingLoginFunc: func(ctx context.Context, userID string) error {
			return nil
		},
		CompleteMFALoginFunc: func(ctx context.Context, userID string) (*services.LoginResult, error) {
			return &services.LoginResult{
				Tokens: &models.TokenPair{AccessToken: "access_mfa", RefreshToken: "refresh_mfa"},
				User:   &services.UserInfo{ID: userID},
			}, nil
		},
	}
}

// ============================================================================
// Login Verification
// ============================================================================

func TestVerifyLogin_TOTPSuccess(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		VerifyTOTPCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return code == "123456", nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: handlers.MethodTOTP,
		Code:   "123456",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	var resp services.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "access_mfa", resp.Tokens.AccessToken)
}

func TestVerifyLogin_NoPendingChallenge(t *testing.T) {
	// Without a pending login the factor is never even checked.
	verifyCalled := false
	mockMFA := &handlers.MockMFAService{
		VerifyTOTPCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			verifyCalled = true
			return true, nil
		},
	}
	mockLogin := &handlers.MockMFALoginService{
		CheckPendingLoginFunc: func(ctx context.Context, userID string) error {
			return models.ErrMFASessionExpired
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, mockLogin, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: handlers.MethodTOTP,
		Code:   "123456",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.False(t, verifyCalled, "factor must not be checked without a pending challenge")
}

func TestVerifyLogin_WrongCode(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		VerifyTOTPCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return false, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: handlers.MethodTOTP,
		Code:   "000000",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestVerifyLogin_SMSAttemptsExceeded(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true, PhoneVerified: true}
	mockMFA := &handlers.MockMFAService{
		VerifySMSCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return false, models.ErrOTPAttemptsExceeded
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: handlers.MethodSMS,
		Code:   "000000",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestVerifyLogin_BackupCode(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		VerifyBackupCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return code == "AAAA-BBBB-CCCC", nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: handlers.MethodBackupCode,
		Code:   "AAAA-BBBB-CCCC",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	var resp services.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.NotNil(t, resp.Tokens)
}

func TestVerifyLogin_UnknownMethod(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{}, &handlers.MockMFALoginService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyLoginRequest{
		UserID: testUserID,
		Method: "carrier_pigeon",
		Code:   "123456",
	})

	w := httptest.NewRecorder()
	handler.VerifyLogin(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

// ============================================================================
// Login SMS Dispatch
// ============================================================================

func TestSendLoginSMS_Success(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true, PhoneVerified: true}
	sent := false
	mockMFA := &handlers.MockMFAService{
		SendSMSCodeFunc: func(ctx context.Context, u *models.User, resend bool) error {
			sent = true
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/sms", handlers.SendLoginSMSRequest{
		UserID: testUserID,
	})

	w := httptest.NewRecorder()
	handler.SendLoginSMS(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.True(t, sent)
}

func TestSendLoginSMS_RateLimited(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true, PhoneVerified: true}
	mockMFA := &handlers.MockMFAService{
		SendSMSCodeFunc: func(ctx context.Context, u *models.User, resend bool) error {
			return models.ErrOTPRateLimited
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/sms", handlers.SendLoginSMSRequest{
		UserID: testUserID,
		Resend: true,
	})

	w := httptest.NewRecorder()
	handler.SendLoginSMS(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestSendLoginSMS_NoVerifiedPhone(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		SendSMSCodeFunc: func(ctx context.Context, u *models.User, resend bool) error {
			return models.ErrPhoneNotVerified
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, pendingLoginService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/sms", handlers.SendLoginSMSRequest{
		UserID: testUserID,
	})

	w := httptest.NewRecorder()
	handler.SendLoginSMS(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

// ============================================================================
// Enrollment
// ============================================================================

func authedUserService(user *models.User) *handlers.MockMFALoginService {
	return &handlers.MockMFALoginService{
		GetUserFunc: func(ctx context.Context, userID string) (*models.User, error) {
			return user, nil
		},
	}
}

func TestSetupTOTP_Success(t *testing.T) {
	user := &models.User{ID: testUserID}
	mockMFA := &handlers.MockMFAService{
		SetupTOTPFunc: func(ctx context.Context, u *models.User) (*models.TOTPSetup, error) {
			return &models.TOTPSetup{
				Secret:      "JBSWY3DPEHPK3PXP",
				QRCode:      "data:image/png;base64,abc",
				BackupCodes: []string{"1111-2222-3333"},
			}, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/setup", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.SetupTOTP(w, req)

	var resp models.TOTPSetup
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.Len(t, resp.BackupCodes, 1)
}

func TestSetupTOTP_AlreadyEnabled(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		SetupTOTPFunc: func(ctx context.Context, u *models.User) (*models.TOTPSetup, error) {
			return nil, models.ErrMFAAlreadyEnabled
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/setup", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.SetupTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestSetupTOTP_Unauthenticated(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{}, &handlers.MockMFALoginService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/setup", nil)

	w := httptest.NewRecorder()
	handler.SetupTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestVerifyTOTP_EnablesMFA(t *testing.T) {
	user := &models.User{ID: testUserID}
	enabled := false
	mockMFA := &handlers.MockMFAService{
		VerifyAndEnableTOTPFunc: func(ctx context.Context, u *models.User, code, ip string) error {
			enabled = true
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/verify", handlers.VerifyTOTPRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.VerifyTOTP(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.True(t, enabled)
}

func TestVerifyTOTP_InvalidCode(t *testing.T) {
	user := &models.User{ID: testUserID}
	mockMFA := &handlers.MockMFAService{
		VerifyAndEnableTOTPFunc: func(ctx context.Context, u *models.User, code, ip string) error {
			return models.ErrMFAInvalidCode
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/verify", handlers.VerifyTOTPRequest{Code: "000000"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.VerifyTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestVerifyTOTP_NoSetupInProgress(t *testing.T) {
	user := &models.User{ID: testUserID}
	mockMFA := &handlers.MockMFAService{
		VerifyAndEnableTOTPFunc: func(ctx context.Context, u *models.User, code, ip string) error {
			return models.ErrMFASetupNotFound
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/totp/verify", handlers.VerifyTOTPRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.VerifyTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

// ============================================================================
// Disable / Backup Codes / Status
// ============================================================================

func TestDisable_RequiresValidFactor(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		VerifyTOTPCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return false, nil
		},
		VerifyBackupCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return false, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMFARequest{Code: "000000"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestDisable_AcceptsBackupCodeFallback(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	disabled := false
	mockMFA := &handlers.MockMFAService{
		VerifyTOTPCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return false, nil
		},
		VerifyBackupCodeFunc: func(ctx context.Context, u *models.User, code string) (bool, error) {
			return true, nil
		},
		DisableMFAFunc: func(ctx context.Context, u *models.User, ip string) error {
			disabled = true
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMFARequest{Code: "AAAA-BBBB-CCCC"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.True(t, disabled)
}

func TestRegenerateBackupCodes_Success(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		RegenerateBackupCodesFunc: func(ctx context.Context, u *models.User, ip string) ([]string, error) {
			return []string{"1111-2222-3333", "4444-5555-6666"}, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/backup-codes/regenerate", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	var resp map[string][]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Len(t, resp["backup_codes"], 2)
}

func TestRegenerateBackupCodes_NotEnabled(t *testing.T) {
	user := &models.User{ID: testUserID}
	mockMFA := &handlers.MockMFAService{
		RegenerateBackupCodesFunc: func(ctx context.Context, u *models.User, ip string) ([]string, error) {
			return nil, models.ErrMFANotEnabled
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/backup-codes/regenerate", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

// ============================================================================
// Phone Verification
// ============================================================================

func TestSetupPhone_Success(t *testing.T) {
	user := &models.User{ID: testUserID}
	var gotPhone string
	mockMFA := &handlers.MockMFAService{
		SetupPhoneFunc: func(ctx context.Context, u *models.User, phone string) error {
			gotPhone = phone
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/phone", handlers.SetupPhoneRequest{Phone: "+15551230000"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.SetupPhone(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.Equal(t, "+15551230000", gotPhone)
}

func TestSetupPhone_MalformedNumber(t *testing.T) {
	user := &models.User{ID: testUserID}
	called := false
	mockMFA := &handlers.MockMFAService{
		SetupPhoneFunc: func(ctx context.Context, u *models.User, phone string) error {
			called = true
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/phone", handlers.SetupPhoneRequest{Phone: "555-1234"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.SetupPhone(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.False(t, called)
}

func TestSetupPhone_RateLimited(t *testing.T) {
	user := &models.User{ID: testUserID}
	mockMFA := &handlers.MockMFAService{
		SetupPhoneFunc: func(ctx context.Context, u *models.User, phone string) error {
			return models.ErrOTPRateLimited
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/phone", handlers.SetupPhoneRequest{Phone: "+15551230000"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.SetupPhone(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestVerifyPhone_Success(t *testing.T) {
	user := &models.User{ID: testUserID, Phone: "+15551230000"}
	mockMFA := &handlers.MockMFAService{
		VerifyPhoneFunc: func(ctx context.Context, u *models.User, code, ip string) error {
			assert.Equal(t, "483920", code)
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/phone/verify", handlers.VerifyPhoneRequest{Code: "483920"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.VerifyPhone(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
}

func TestVerifyPhone_WrongCode(t *testing.T) {
	user := &models.User{ID: testUserID, Phone: "+15551230000"}
	mockMFA := &handlers.MockMFAService{
		VerifyPhoneFunc: func(ctx context.Context, u *models.User, code, ip string) error {
			return models.ErrMFAInvalidCode
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "POST", "/mfa/phone/verify", handlers.VerifyPhoneRequest{Code: "000000"})
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.VerifyPhone(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestStatus(t *testing.T) {
	user := &models.User{ID: testUserID, MFAEnabled: true}
	mockMFA := &handlers.MockMFAService{
		GetStatusFunc: func(u *models.User) *models.MFAStatus {
			return &models.MFAStatus{Enabled: true, TOTPConfigured: true, BackupCodesRemaining: 7}
		},
	}

	handler := handlers.NewMFAHandler(mockMFA, authedUserService(user), nil)
	req := handlers.NewTestRequest(t, "GET", "/mfa/status", nil)
	req = handlers.WithAuthContext(req, testUserID)

	w := httptest.NewRecorder()
	handler.Status(w, req)

	var resp models.MFAStatus
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Enabled)
	assert.Equal(t, 7, resp.BackupCodesRemaining)
}
