package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	MFA       *handlers.MFAHandler
	Sessions  *handlers.SessionHandler
	Admin     *handlers.AdminHandler
	Audit     *handlers.AuditHandler
	WellKnown *handlers.WellKnownHandler
	Metrics   http.Handler
}

// Deps are the cross-cutting pieces the route groups are wrapped in.
type Deps struct {
	Tokens   auth.TokenValidator
	Sessions middleware.SessionToucher
	IPConfig *pkghttp.IPConfig
	Logger   *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, deps Deps) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit(), deps.IPConfig)
	anonMfaLimit := middleware.RateLimitByIP(middleware.DefaultAnonymousMfaRateLimit(), deps.IPConfig)

	// Public routes
	router.Get("/health", h.WellKnown.Health)
	router.Get("/metrics", h.Metrics.ServeHTTP)
	router.Get("/.well-known/jwks.json", h.WellKnown.JWKS)

	router.Group(func(r chi.Router) {
		r.Use(authLimit)
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/login/mfa", h.Auth.LoginMfa)
		r.Post("/auth/login/mfa/email-otp", h.Auth.LoginOtp)
		r.Post("/auth/refresh", h.Auth.Refresh)
	})

	router.Group(func(r chi.Router) {
		r.Use(anonMfaLimit)
		r.Post("/mfa/verify", h.MFA.Verify)
		r.Post("/mfa/email-otp", h.MFA.EmailOtp)
	})

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.Tokens))
		r.Use(middleware.SessionActivity(deps.Sessions, deps.Logger))

		r.Post("/auth/logout", h.Auth.Logout)

		r.Post("/mfa/setup", h.MFA.Setup)
		r.Post("/mfa/setup/regenerate", h.MFA.Regenerate)
		r.Post("/mfa/setup/verify", h.MFA.VerifySetup)
		r.Post("/mfa/enable", h.MFA.Enable)
		r.Post("/mfa/disable", h.MFA.Disable)
		r.Post("/mfa/backup-codes", h.MFA.BackupCodes)
		r.Get("/mfa/status", h.MFA.Status)
		r.Get("/mfa/audit", h.Audit.GetOwnMfaAudit)

		r.Get("/sessions", h.Sessions.List)
		r.Post("/sessions/terminate-others", h.Sessions.TerminateOthers)
		r.Put("/sessions/timeout", h.Sessions.UpdateTimeout)
		r.Get("/sessions/statistics", h.Sessions.Statistics)
		r.Delete("/sessions/{id}", h.Sessions.Terminate)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Get("/statistics", h.Admin.GetStatistics)
			r.Post("/users/{id}/lockout", h.Admin.LockUser)
			r.Delete("/users/{id}/lockout", h.Admin.UnlockUser)
			r.Get("/users/{id}/lockouts", h.Admin.GetLockouts)
			r.Put("/users/{id}/mfa/enforcement", h.Admin.SetMfaEnforcement)
			r.Get("/users/{id}/mfa/audit", h.Audit.GetUserMfaAudit)
		})
	})
}
