package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/cache"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/database"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/middleware"
	"github.com/taskhive/taskhive/internal/repositories"
	"github.com/taskhive/taskhive/internal/routes"
	"github.com/taskhive/taskhive/internal/services"
	pkghttp "github.com/taskhive/taskhive/pkg/http"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	blacklistRepo := repositories.NewBlacklistRepository(redisClient)
	pendingRepo := repositories.NewMFAPendingRepository(redisClient)
	otpRepo := repositories.NewSMSOTPRepository(redisClient)

	// Token and TOTP managers
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		blacklistRepo,
	)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.EncryptionSecret, cfg.MFA.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// SMS gateway
	var smsSender services.SMSSender
	if cfg.SMS.Provider == "sns" {
		smsSender, err = services.NewSNSSMSSender(cfg.SMS.AWSRegion, cfg.SMS.SenderID, logger)
		if err != nil {
			logger.Error("failed to initialize SNS sender", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		smsSender = services.NewLogSMSSender(logger)
	}

	// Services
	sessionService := services.NewSessionService(sessionRepo, logger)
	smsOTPService := services.NewSMSOTPService(otpRepo, smsSender, cfg.SMS, logger)
	mfaService := services.NewMFAService(userRepo, pendingRepo, totpManager, smsOTPService, cfg.MFA, logger, auditLogger)
	authService := services.NewAuthService(userRepo, sessionService, tokenManager, pendingRepo, cfg.Auth, cfg.MFA, logger, auditLogger)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, authService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(authService)

	// Router
	corsConfig := middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, tokenManager)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbUp := db.HealthCheck(ctx) == nil
		redisUp := cache.HealthCheck(ctx, redisClient) == nil

		status := http.StatusOK
		body := `{"status":"healthy","database":"up","redis":"up"}`
		if !dbUp || !redisUp {
			status = http.StatusServiceUnavailable
			body = `{"status":"unhealthy"`
			if dbUp {
				body += `,"database":"up"`
			} else {
				body += `,"database":"down"`
			}
			if redisUp {
				body += `,"redis":"up"}`
			} else {
				body += `,"redis":"down"}`
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Expired-session sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepExpiredSessions(sweepCtx, sessionRepo, logger)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// sweepExpiredSessions periodically deletes sessions expired for more than
// 30 days; the remainder stays visible in the device-review list.
func sweepExpiredSessions(ctx context.Context, sessionRepo *repositories.SessionRepository, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessionRepo.DeleteExpired(ctx, 30*24*time.Hour)
			if err != nil {
				logger.Error("session sweep failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("expired sessions deleted", slog.Int64("count", deleted))
			}
		}
	}
}
