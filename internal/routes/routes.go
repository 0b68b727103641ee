package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	sessionHandler *handlers.SessionHandler,
	tokenManager *auth.TokenManager,
) {
	authRateLimit := middleware.DefaultAuthRateLimit()
	otpRateLimit := middleware.DefaultOTPRateLimit()

	// Public routes - no authentication required
	router.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(authRateLimit)).Post("/register", authHandler.Register)
		r.With(middleware.RateLimitByIP(authRateLimit)).Post("/login", authHandler.Login)
		r.With(middleware.RateLimitByIP(authRateLimit)).Post("/refresh", authHandler.RefreshToken)

		// Mid-login MFA challenge endpoints: gated on the pending login
		// record, not on a bearer token.
		r.With(middleware.RateLimitByIP(authRateLimit)).Post("/mfa/verify", mfaHandler.VerifyLogin)
		r.With(middleware.RateLimitByIP(otpRateLimit)).Post("/mfa/sms", mfaHandler.SendLoginSMS)
	})

	// Protected routes - valid access token required
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/logout-all", authHandler.LogoutAll)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions/{id}", sessionHandler.Terminate)

		r.Route("/mfa", func(r chi.Router) {
			r.Get("/status", mfaHandler.Status)
			r.Post("/totp/setup", mfaHandler.SetupTOTP)
			r.Post("/totp/verify", mfaHandler.VerifyTOTP)
			r.With(middleware.RateLimitByIP(otpRateLimit)).Post("/phone", mfaHandler.SetupPhone)
			r.Post("/phone/verify", mfaHandler.VerifyPhone)
			r.Post("/disable", mfaHandler.Disable)
			r.Post("/backup-codes/regenerate", mfaHandler.RegenerateBackupCodes)
		})
	})
}
