package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/models"
	pkgauth "github.com/taskhive/taskhive/pkg/auth"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc               func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc            func(ctx context.Context, email string) (*models.User, error)
	CreateFunc                func(ctx context.Context, user *models.User) (*models.User, error)
	RecordFailedLoginFunc func(ctx context.Context, id string, max int, until time.Time) (int, bool, error)
	ResetFailedLoginsFunc func(ctx context.Context, id string) error
	UnlockAccountFunc     func(ctx context.Context, id string) error
	RecordLoginFunc       func(ctx context.Context, id, ip string, at time.Time) error
	UpdateMFAFunc         func(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error
	UpdateBackupCodesFunc func(ctx context.Context, id string, backupCodes []byte) error
	SetPhoneFunc          func(ctx context.Context, id, phone string, verified bool) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) RecordFailedLogin(ctx context.Context, id string, max int, until time.Time) (int, bool, error) {
	if m.RecordFailedLoginFunc != nil {
		return m.RecordFailedLoginFunc(ctx, id, max, until)
	}
	return 1, false, nil
}

func (m *MockUserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	if m.ResetFailedLoginsFunc != nil {
		return m.ResetFailedLoginsFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) UnlockAccount(ctx context.Context, id string) error {
	if m.UnlockAccountFunc != nil {
		return m.UnlockAccountFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, ip, at)
	}
	return nil
}

func (m *MockUserRepository) UpdateMFA(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error {
	if m.UpdateMFAFunc != nil {
		return m.UpdateMFAFunc(ctx, id, enabled, secret, backupCodes, setupAt)
	}
	return nil
}

func (m *MockUserRepository) UpdateBackupCodes(ctx context.Context, id string, backupCodes []byte) error {
	if m.UpdateBackupCodesFunc != nil {
		return m.UpdateBackupCodesFunc(ctx, id, backupCodes)
	}
	return nil
}

func (m *MockUserRepository) SetPhone(ctx context.Context, id, phone string, verified bool) error {
	if m.SetPhoneFunc != nil {
		return m.SetPhoneFunc(ctx, id, phone, verified)
	}
	return nil
}

// MockSessionRepository implements SessionRepository for testing. Created
// sessions are retained so tests can assert on them.
type MockSessionRepository struct {
	CreateFunc        func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.Session, error)
	GetByJTIFunc      func(ctx context.Context, jti string) (*models.Session, error)
	GetByUserIDFunc   func(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error)
	TerminateFunc     func(ctx context.Context, id string) error
	RotateJTIFunc     func(ctx context.Context, id, newJTI, ip string) error
	TouchActivityFunc func(ctx context.Context, id, ip string) error

	Created    []*models.Session
	Terminated []string
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	session.ID = "session_" + session.UserID
	session.IsActive = true
	session.CreatedAt = time.Now()
	m.Created = append(m.Created, session)
	return session, nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByJTI(ctx context.Context, jti string) (*models.Session, error) {
	if m.GetByJTIFunc != nil {
		return m.GetByJTIFunc(ctx, jti)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByUserID(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID, activeOnly)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) Terminate(ctx context.Context, id string) error {
	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, id)
	}
	m.Terminated = append(m.Terminated, id)
	return nil
}

func (m *MockSessionRepository) RotateJTI(ctx context.Context, id, newJTI, ip string) error {
	if m.RotateJTIFunc != nil {
		return m.RotateJTIFunc(ctx, id, newJTI, ip)
	}
	return nil
}

func (m *MockSessionRepository) TouchActivity(ctx context.Context, id, ip string) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(ctx, id, ip)
	}
	return nil
}

// MemoryPendingStore is an in-memory PendingMFAStore for testing
type MemoryPendingStore struct {
	mu     sync.Mutex
	logins map[string]*models.PendingLogin
	setups map[string]*models.PendingTOTPSetup
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		logins: make(map[string]*models.PendingLogin),
		setups: make(map[string]*models.PendingTOTPSetup),
	}
}

func (s *MemoryPendingStore) SavePendingLogin(ctx context.Context, userID string, pending *models.PendingLogin, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[userID] = pending
	return nil
}

func (s *MemoryPendingStore) GetPendingLogin(ctx context.Context, userID string) (*models.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.logins[userID]
	if !ok {
		return nil, models.ErrMFASessionExpired
	}
	return pending, nil
}

func (s *MemoryPendingStore) DeletePendingLogin(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logins, userID)
	return nil
}

func (s *MemoryPendingStore) SavePendingSetup(ctx context.Context, userID string, setup *models.PendingTOTPSetup, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[userID] = setup
	return nil
}

func (s *MemoryPendingStore) GetPendingSetup(ctx context.Context, userID string) (*models.PendingTOTPSetup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setup, ok := s.setups[userID]
	if !ok {
		return nil, models.ErrMFASetupNotFound
	}
	return setup, nil
}

func (s *MemoryPendingStore) DeletePendingSetup(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.setups, userID)
	return nil
}

// MemoryBlacklist is an in-memory auth.BlacklistStore so token tests can
// exercise real rotation without Redis.
type MemoryBlacklist struct {
	mu       sync.Mutex
	jtis     map[string]bool
	families map[string]bool
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		jtis:     make(map[string]bool),
		families: make(map[string]bool),
	}
}

func (b *MemoryBlacklist) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jtis[jti] = true
	return nil
}

func (b *MemoryBlacklist) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jtis[jti], nil
}

func (b *MemoryBlacklist) BlacklistFamily(ctx context.Context, family string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.families[family] = true
	return nil
}

func (b *MemoryBlacklist) IsFamilyBlacklisted(ctx context.Context, family string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.families[family], nil
}

// MockOTPStore is an in-memory OTPStore for testing
type MockOTPStore struct {
	StoreOTPFunc func(ctx context.Context, userID, code string, ttl time.Duration) error
	GetOTPFunc   func(ctx context.Context, userID string) (string, bool, error)

	mu       sync.Mutex
	codes    map[string]string
	attempts map[string]int
	resends  map[string]int
	ttls     map[string]time.Duration
}

func NewMockOTPStore() *MockOTPStore {
	return &MockOTPStore{
		codes:    make(map[string]string),
		attempts: make(map[string]int),
		resends:  make(map[string]int),
		ttls:     make(map[string]time.Duration),
	}
}

func (m *MockOTPStore) StoreOTP(ctx context.Context, userID, code string, ttl time.Duration) error {
	if m.StoreOTPFunc != nil {
		return m.StoreOTPFunc(ctx, userID, code, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[userID] = code
	m.attempts[userID] = 0
	m.ttls[userID] = ttl
	return nil
}

func (m *MockOTPStore) GetOTP(ctx context.Context, userID string) (string, bool, error) {
	if m.GetOTPFunc != nil {
		return m.GetOTPFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	return code, ok, nil
}

func (m *MockOTPStore) DeleteOTP(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, userID)
	delete(m.attempts, userID)
	delete(m.ttls, userID)
	return nil
}

func (m *MockOTPStore) IncrementAttempts(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[userID]++
	return m.attempts[userID], nil
}

func (m *MockOTPStore) GetAttempts(ctx context.Context, userID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.attempts[userID]
	return n, ok, nil
}

func (m *MockOTPStore) IncrementResendCount(ctx context.Context, userID string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resends[userID]++
	return m.resends[userID], nil
}

func (m *MockOTPStore) GetResendCount(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resends[userID], nil
}

func (m *MockOTPStore) GetOTPTTL(ctx context.Context, userID string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttls[userID]
	return ttl, ok, nil
}

// StoredCode returns the current code for assertions.
func (m *MockOTPStore) StoredCode(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	return code, ok
}

// MockSMSSender records dispatched messages
type MockSMSSender struct {
	SendSMSFunc func(ctx context.Context, phone, message string) error

	mu   sync.Mutex
	Sent []string
}

func (m *MockSMSSender) SendSMS(ctx context.Context, phone, message string) error {
	if m.SendSMSFunc != nil {
		return m.SendSMSFunc(ctx, phone, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, message)
	return nil
}

// ============================================================================
// Test Data Builders
// ============================================================================

// NewTestUser creates an active user with a known password hash
func NewTestUser(id, email string) *models.User {
	now := time.Now()
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: MustHashPassword("CorrectHorse1"),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestUserLocked creates a user under a 30-minute lock
func NewTestUserLocked(id, email string) *models.User {
	user := NewTestUser(id, email)
	lockedUntil := time.Now().Add(30 * time.Minute)
	user.IsLocked = true
	user.LockedUntil = &lockedUntil
	return user
}

// NewTestUserInactive creates a deactivated user
func NewTestUserInactive(id, email string) *models.User {
	user := NewTestUser(id, email)
	user.IsActive = false
	return user
}

// NewTestUserWithMFA creates a user with MFA enabled but no encrypted
// material; tests that need real ciphertexts attach them explicitly.
func NewTestUserWithMFA(id, email string) *models.User {
	user := NewTestUser(id, email)
	now := time.Now()
	user.MFAEnabled = true
	user.MFASetupAt = &now
	return user
}

// NewTestUserWithPhone creates a user with a verified phone number
func NewTestUserWithPhone(id, email, phone string) *models.User {
	user := NewTestUser(id, email)
	user.Phone = phone
	user.PhoneVerified = true
	return user
}

// MustHashPassword hashes the password or panics; for test setup only.
func MustHashPassword(password string) string {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(newTestLogger())
}
