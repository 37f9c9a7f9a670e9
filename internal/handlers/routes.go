package handlers

import (
	"net/http"
)

// Authenticator wraps handlers that need a logged in session
type Authenticator interface {
	Authenticate(next http.Handler) http.Handler
}

// RegisterRoutes mounts the API on mux
func RegisterRoutes(mux *http.ServeMux, authMw Authenticator, authH *AuthHandler, reviewH *ReviewHandler, adminH *AdminHandler) {
	protected := func(h http.HandlerFunc) http.Handler {
		return authMw.Authenticate(h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authMw.Authenticate(RequireAdminView(h))
	}

	// Public routes
	mux.HandleFunc("POST /api/v1/auth/login", authH.Login)

	// Protected routes
	mux.Handle("POST /api/v1/auth/logout", protected(authH.Logout))
	mux.Handle("GET /api/v1/review/progress", protected(reviewH.GetProgress))
	mux.Handle("POST /api/v1/review/start", protected(reviewH.Start))
	mux.Handle("GET /api/v1/review/current", protected(reviewH.Current))
	mux.Handle("POST /api/v1/review/back", protected(reviewH.Back))
	mux.Handle("POST /api/v1/review/submit", protected(reviewH.Submit))
	mux.Handle("POST /api/v1/admin/enter", protected(adminH.Enter))
	mux.Handle("POST /api/v1/admin/exit", protected(adminH.Exit))

	// Admin view routes
	mux.Handle("GET /api/v1/admin/logs", adminOnly(adminH.ListLogs))
	mux.Handle("GET /api/v1/admin/logs/{username}", adminOnly(adminH.GetLog))
	mux.Handle("GET /api/v1/admin/users", adminOnly(adminH.ListUsers))
}
