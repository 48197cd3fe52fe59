package routes

import (
	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/handlers"
	"github.com/BradenHooton/subdivisync/internal/middleware"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth          *handlers.AuthHandler
	Lockout       *handlers.LockoutHandler
	UnlockRequest *handlers.UnlockRequestHandler
	Admin         *handlers.AdminHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	tokenManager *auth.TokenManager,
	userRepo auth.UserRepository,
	publicLimit middleware.RateLimitConfig,
	adminLimit middleware.RateLimitConfig,
) {
	limited := router.With(middleware.RateLimitByIP(publicLimit))

	// Public routes
	limited.Post("/auth/login", h.Auth.Login)
	limited.Post("/api/auth/failed-login", h.Lockout.RecordFailedLogin)
	limited.Post("/api/unlock-request", h.UnlockRequest.Submit)
	router.Get("/api/auth/failed-login", h.Lockout.GetLockoutStatus)
	router.Get("/api/unlock-request", h.UnlockRequest.Status)

	// Admin-only routes
	router.Route("/api/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(auth.RequireRole(userRepo, models.RoleAdmin))
		r.Use(middleware.RateLimitByUserID(adminLimit))

		r.Post("/unlock-account-by-email", h.Admin.UnlockAccountByEmail)
		r.Post("/resend-unlock-email", h.Admin.ResendUnlockEmail)
		r.Post("/unlock-requests/review", h.Admin.ReviewUnlockRequest)
		r.Get("/locked-accounts", h.Admin.ListLockedAccounts)
	})
}
