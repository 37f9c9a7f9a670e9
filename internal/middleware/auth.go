package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pwannenmacher/MetaRate/internal/auth"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/review"
)

type contextKey string

const (
	SessionKey contextKey = "review_session"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.JWTClaims, error)
}

// SessionLoader resolves a session id to its current state
type SessionLoader interface {
	Load(ctx context.Context, id string) (models.Session, error)
}

// AuthMiddleware validates JWT tokens and loads the review session they point to
type AuthMiddleware struct {
	tokens   TokenValidator
	sessions SessionLoader
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokens TokenValidator, sessions SessionLoader) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		sessions: sessions,
	}
}

// Authenticate validates the JWT token and adds the session to the context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondWithError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		// The token is only as good as the session behind it; logout deletes the session
		session, err := m.sessions.Load(r.Context(), claims.SessionID)
		if errors.Is(err, review.ErrSessionExpired) {
			respondWithError(w, http.StatusUnauthorized, "Session has ended")
			return
		}
		if err != nil {
			slog.Error("Failed to load session", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to load session")
			return
		}
		if session.Username != claims.Username {
			respondWithError(w, http.StatusUnauthorized, "Token does not match session")
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession retrieves the review session from the request context
func GetSession(r *http.Request) (models.Session, bool) {
	session, ok := r.Context().Value(SessionKey).(models.Session)
	return session, ok
}

// Helper function to respond with JSON error
func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
