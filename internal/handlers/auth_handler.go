package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pwannenmacher/MetaRate/internal/auth"
	"github.com/pwannenmacher/MetaRate/internal/middleware"
	"github.com/pwannenmacher/MetaRate/internal/review"
	"github.com/pwannenmacher/MetaRate/internal/roster"
	"github.com/pwannenmacher/MetaRate/pkg/validator"
)

// AuthHandler handles login and logout
type AuthHandler struct {
	machine  *review.Machine
	registry *review.Registry
	tokens   *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(machine *review.Machine, registry *review.Registry, tokens *auth.Service) *AuthHandler {
	return &AuthHandler{
		machine:  machine,
		registry: registry,
		tokens:   tokens,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" validate:"max=1024"`
	Password string `json:"password" validate:"max=256"`
}

// LoginResponse carries the session token and the initial session
type LoginResponse struct {
	Token   string      `json:"token"`
	Session SessionView `json:"session"`
	Warning string      `json:"warning,omitempty"`
}

// Login handles user login
// @Summary Log in
// @Description Authenticate against the roster and open a review session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 401 {object} map[string]string "Invalid username or password"
// @Failure 503 {object} map[string]string "User roster is not configured"
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}
	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Names the roster cannot hold still go through the machine so the failed attempt is logged
	username := validator.SanitizeString(req.Username)
	res, err := h.machine.Login(r.Context(), username, req.Password)
	switch {
	case errors.Is(err, review.ErrAuthFailure):
		respondWithError(w, http.StatusUnauthorized, ErrMsgInvalidCredentials)
		return
	case errors.Is(err, roster.ErrConfigMissing):
		slog.Error("Login attempted without a roster", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, ErrMsgRosterMissing)
		return
	case err != nil:
		slog.Error("Login failed", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	session, err := h.registry.Create(r.Context(), res.Session)
	if err != nil {
		slog.Error("Failed to create session", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	token, err := h.tokens.GenerateToken(session.Username, session.ID)
	if err != nil {
		slog.Error("Failed to generate token", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponse{
		Token:   token,
		Session: newSessionView(session),
		Warning: res.Warning,
	})
}

// Logout handles user logout
// @Summary Log out
// @Description End the current review session
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logged out"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	res, err := h.machine.Logout(r.Context(), session)
	if err != nil {
		respondWithReviewError(w, res, err)
		return
	}
	if err := h.registry.Update(r.Context(), session.ID, res.Session); err != nil {
		slog.Error("Failed to end session", "username", session.Username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	resp := map[string]string{"message": "Logged out"}
	if res.Warning != "" {
		resp["warning"] = res.Warning
	}
	respondWithJSON(w, http.StatusOK, resp)
}
