package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authmw "github.com/MrEthical07/authbroker/middleware"
)

// Init builds the router.
func (h *Handler) Init() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.withTraceID, h.withLogging, h.withClientInfo)

	router.Get("/healthz", h.healthz)
	router.Get("/metrics", h.metrics.ServeHTTP)

	// routes without an access token
	router.Group(func(r chi.Router) {
		r.Post("/register", h.register)
		r.Get("/verify-email", h.verifyEmail)
		r.Post("/resend-email-verify", h.resendVerification)
		r.Post("/login", h.login)
		r.Post("/2fa/login/verify", h.verifyMFALogin)
		r.Get("/refresh", h.refresh)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)
	})

	// routes behind an access token
	router.Group(func(r chi.Router) {
		r.Use(authmw.RequireAccess(h.engine, h.accessDenied))

		r.Post("/logout", h.logout)
		r.Post("/logout-all", h.logoutAll)
		r.Post("/2fa/setup", h.setupMFA)
		r.Post("/2fa/setup/verify", h.confirmMFA)
		r.Post("/2fa/reset", h.resetMFA)
		r.Post("/change-password", h.changePassword)
		r.Get("/status", h.status)
		r.Get("/sessions", h.listSessions)
		r.Delete("/sessions/{jti}", h.revokeSession)
	})

	return router
}
