package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/database"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/repositories"
	"github.com/taskhive/taskhive/internal/services"
	pkgauth "github.com/taskhive/taskhive/pkg/auth"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// TestDB manages the PostgreSQL testcontainer and its connection pool.
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase starts a PostgreSQL container and runs all migrations.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("taskhive"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection; use the pgx adapter.
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool.
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"sessions",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedUser inserts a user through the repository with a hashed password.
func SeedUser(ctx context.Context, db *database.DB, email, password string) (*models.User, error) {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userRepo := repositories.NewUserRepository(db)
	user, err := userRepo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

// Stack is the full service wiring against a real Postgres and an in-process
// Redis, as close to cmd/api as a test can get.
type Stack struct {
	Redis       *miniredis.Miniredis
	UserRepo    *repositories.UserRepository
	SessionRepo *repositories.SessionRepository
	Tokens      *auth.TokenManager
	Auth        *services.AuthService
	MFA         *services.MFAService
	SMSSender   *services.MockSMSSender
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:          "integration-jwt-secret-32-chars!",
		EncryptionSecret:   "integration-enc-secret-32-chars!",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		MaxFailedLogins:    5,
		LockoutDuration:    15 * time.Minute,
	}
}

func testMFAConfig() config.MFAConfig {
	return config.MFAConfig{
		TOTPIssuer:      "TaskHive",
		BackupCodeCount: 10,
		PendingLoginTTL: 5 * time.Minute,
		PendingSetupTTL: 15 * time.Minute,
	}
}

func testSMSConfig() config.SMSConfig {
	return config.SMSConfig{
		OTPLength:         6,
		OTPExpiry:         5 * time.Minute,
		MaxVerifyAttempts: 5,
		MaxResends:        3,
		ResendWindow:      time.Minute,
	}
}

// NewStack wires repositories and services against the test database and a
// fresh miniredis.
func NewStack(db *TestDB) (*Stack, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start miniredis: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	authCfg := testAuthConfig()
	mfaCfg := testMFAConfig()

	userRepo := repositories.NewUserRepository(db.DB)
	sessionRepo := repositories.NewSessionRepository(db.DB)
	blacklistRepo := repositories.NewBlacklistRepository(redisClient)
	pendingRepo := repositories.NewMFAPendingRepository(redisClient)
	otpRepo := repositories.NewSMSOTPRepository(redisClient)

	tokenManager := auth.NewTokenManager(
		authCfg.JWTSecret,
		authCfg.AccessTokenExpiry,
		authCfg.RefreshTokenExpiry,
		blacklistRepo,
	)

	totpManager, err := auth.NewTOTPManager(authCfg.EncryptionSecret, mfaCfg.TOTPIssuer)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)

	smsSender := &services.MockSMSSender{}

	sessionService := services.NewSessionService(sessionRepo, logger)
	smsOTPService := services.NewSMSOTPService(otpRepo, smsSender, testSMSConfig(), logger)
	mfaService := services.NewMFAService(userRepo, pendingRepo, totpManager, smsOTPService, mfaCfg, logger, audit)
	authService := services.NewAuthService(userRepo, sessionService, tokenManager, pendingRepo, authCfg, mfaCfg, logger, audit)

	return &Stack{
		Redis:       srv,
		UserRepo:    userRepo,
		SessionRepo: sessionRepo,
		Tokens:      tokenManager,
		Auth:        authService,
		MFA:         mfaService,
		SMSSender:   smsSender,
	}, nil
}

// Close tears down the in-process Redis.
func (s *Stack) Close() {
	s.Redis.Close()
}
