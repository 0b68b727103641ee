package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/services"
	pkghttp "github.com/taskhive/taskhive/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access-token claims to the request context, standing
// in for the auth middleware on protected endpoints.
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Type:   models.TokenTypeAccess,
		JTI:    "test-jti",
	}
	ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, claims)
	return req.WithContext(ctx)
}

// WithURLParam injects a chi route parameter into the request context.
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc         func(ctx context.Context, email, password, phone string) (*services.UserInfo, error)
	LoginFunc            func(ctx context.Context, email, password, userAgent, ip string) (*services.LoginResult, error)
	RefreshTokensFunc    func(ctx context.Context, refreshToken, ip string) (*models.TokenPair, error)
	LogoutFunc           func(ctx context.Context, accessToken, refreshToken, ip string) error
	LogoutAllDevicesFunc func(ctx context.Context, userID, keepSessionID, ip string) (int, error)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, phone string) (*services.UserInfo, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, phone)
	}
	return nil, models.ErrBadRequest
}

func (m *MockAuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, userAgent, ip)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) RefreshTokens(ctx context.Context, refreshToken, ip string) (*models.TokenPair, error) {
	if m.RefreshTokensFunc != nil {
		return m.RefreshTokensFunc(ctx, refreshToken, ip)
	}
	return nil, models.ErrTokenInvalid
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken, ip string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accessToken, refreshToken, ip)
	}
	return nil
}

func (m *MockAuthService) LogoutAllDevices(ctx context.Context, userID, keepSessionID, ip string) (int, error) {
	if m.LogoutAllDevicesFunc != nil {
		return m.LogoutAllDevicesFunc(ctx, userID, keepSessionID, ip)
	}
	return 0, nil
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	SetupTOTPFunc             func(ctx context.Context, user *models.User) (*models.TOTPSetup, error)
	VerifyAndEnableTOTPFunc   func(ctx context.Context, user *models.User, code, ip string) error
	VerifyTOTPCodeFunc        func(ctx context.Context, user *models.User, code string) (bool, error)
	VerifyBackupCodeFunc      func(ctx context.Context, user *models.User, code string) (bool, error)
	SendSMSCodeFunc           func(ctx context.Context, user *models.User, resend bool) error
	VerifySMSCodeFunc         func(ctx context.Context, user *models.User, code string) (bool, error)
	SetupPhoneFunc            func(ctx context.Context, user *models.User, phone string) error
	VerifyPhoneFunc           func(ctx context.Context, user *models.User, code, ip string) error
	DisableMFAFunc            func(ctx context.Context, user *models.User, ip string) error
	RegenerateBackupCodesFunc func(ctx context.Context, user *models.User, ip string) ([]string, error)
	GetStatusFunc             func(user *models.User) *models.MFAStatus
}

func (m *MockMFAService) SetupTOTP(ctx context.Context, user *models.User) (*models.TOTPSetup, error) {
	if m.SetupTOTPFunc != nil {
		return m.SetupTOTPFunc(ctx, user)
	}
	return nil, models.ErrMFAAlreadyEnabled
}

func (m *MockMFAService) VerifyAndEnableTOTP(ctx context.Context, user *models.User, code, ip string) error {
	if m.VerifyAndEnableTOTPFunc != nil {
		return m.VerifyAndEnableTOTPFunc(ctx, user, code, ip)
	}
	return models.ErrMFASetupNotFound
}

func (m *MockMFAService) VerifyTOTPCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if m.VerifyTOTPCodeFunc != nil {
		return m.VerifyTOTPCodeFunc(ctx, user, code)
	}
	return false, nil
}

func (m *MockMFAService) VerifyBackupCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if m.VerifyBackupCodeFunc != nil {
		return m.VerifyBackupCodeFunc(ctx, user, code)
	}
	return false, nil
}

func (m *MockMFAService) SendSMSCode(ctx context.Context, user *models.User, resend bool) error {
	if m.SendSMSCodeFunc != nil {
		return m.SendSMSCodeFunc(ctx, user, resend)
	}
	return models.ErrPhoneNotVerified
}

func (m *MockMFAService) VerifySMSCode(ctx context.Context, user *models.User, code string) (bool, error) {
	if m.VerifySMSCodeFunc != nil {
		return m.VerifySMSCodeFunc(ctx, user, code)
	}
	return false, models.ErrOTPNotFound
}

func (m *MockMFAService) SetupPhone(ctx context.Context, user *models.User, phone string) error {
	if m.SetupPhoneFunc != nil {
		return m.SetupPhoneFunc(ctx, user, phone)
	}
	return nil
}

func (m *MockMFAService) VerifyPhone(ctx context.Context, user *models.User, code, ip string) error {
	if m.VerifyPhoneFunc != nil {
		return m.VerifyPhoneFunc(ctx, user, code, ip)
	}
	return models.ErrOTPNotFound
}

func (m *MockMFAService) DisableMFA(ctx context.Context, user *models.User, ip string) error {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, user, ip)
	}
	return nil
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, user *models.User, ip string) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, user, ip)
	}
	return nil, models.ErrMFANotEnabled
}

func (m *MockMFAService) GetStatus(user *models.User) *models.MFAStatus {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(user)
	}
	return &models.MFAStatus{}
}

// MockMFALoginService implements MFALoginService for testing
type MockMFALoginService struct {
	GetUserFunc           func(ctx context.Context, userID string) (*models.User, error)
	CheckPendingLoginFunc func(ctx context.Context, userID string) error
	CompleteMFALoginFunc  func(ctx context.Context, userID string) (*services.LoginResult, error)
}

func (m *MockMFALoginService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMFALoginService) CheckPendingLogin(ctx context.Context, userID string) error {
	if m.CheckPendingLoginFunc != nil {
		return m.CheckPendingLoginFunc(ctx, userID)
	}
	return models.ErrMFASessionExpired
}

func (m *MockMFALoginService) CompleteMFALogin(ctx context.Context, userID string) (*services.LoginResult, error) {
	if m.CompleteMFALoginFunc != nil {
		return m.CompleteMFALoginFunc(ctx, userID)
	}
	return nil, models.ErrMFASessionExpired
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	GetUserSessionsFunc  func(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error)
	TerminateSessionFunc func(ctx context.Context, userID, sessionID string) error
}

func (m *MockSessionService) GetUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
	if m.GetUserSessionsFunc != nil {
		return m.GetUserSessionsFunc(ctx, userID, activeOnly)
	}
	return nil, nil
}

func (m *MockSessionService) TerminateSession(ctx context.Context, userID, sessionID string) error {
	if m.TerminateSessionFunc != nil {
		return m.TerminateSessionFunc(ctx, userID, sessionID)
	}
	return models.ErrSessionNotFound
}
