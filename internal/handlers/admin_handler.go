package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/middleware"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/review"
)

// AdminHandler serves the admin view
type AdminHandler struct {
	machine  *review.Machine
	registry *review.Registry
	view     *review.AdminView
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(machine *review.Machine, registry *review.Registry, view *review.AdminView) *AdminHandler {
	return &AdminHandler{
		machine:  machine,
		registry: registry,
		view:     view,
	}
}

// LogsResponse lists the known action logs
type LogsResponse struct {
	Logs    []models.ActionLogSummary `json:"logs"`
	Message string                    `json:"message,omitempty"`
}

// LogResponse is one user's action log
type LogResponse struct {
	Username string               `json:"username"`
	Name     string               `json:"name"`
	Entries  []models.ActionEntry `json:"entries"`
}

// RequireAdminView rejects requests from sessions outside the admin view
func RequireAdminView(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.GetSession(r)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
			return
		}
		if err := review.RequireAdmin(session); err != nil {
			slog.Warn("Admin endpoint denied", "username", session.Username, "state", session.State)
			respondWithError(w, http.StatusForbidden, ErrMsgAdminDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, op func(models.Session) (review.Result, error)) {
	session, ok := middleware.GetSession(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	res, opErr := op(session)
	if err := h.registry.Update(r.Context(), session.ID, res.Session); err != nil {
		slog.Error("Failed to persist session", "username", session.Username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}
	if opErr != nil {
		respondWithReviewError(w, res, opErr)
		return
	}
	respondWithJSON(w, http.StatusOK, newReviewResponse(res))
}

// Enter opens the admin view
// @Summary Enter admin view
// @Description Switch the session to the admin view; refused for non-admins
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ReviewResponse
// @Failure 403 {object} map[string]string "Admin access denied"
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /admin/enter [post]
func (h *AdminHandler) Enter(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s models.Session) (review.Result, error) {
		return h.machine.EnterAdmin(r.Context(), s)
	})
}

// Exit leaves the admin view
// @Summary Exit admin view
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ReviewResponse
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /admin/exit [post]
func (h *AdminHandler) Exit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s models.Session) (review.Result, error) {
		return h.machine.ExitAdmin(r.Context(), s)
	})
}

// ListLogs lists all action logs
// @Summary List action logs
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} LogsResponse
// @Failure 403 {object} map[string]string "Admin access denied"
// @Router /admin/logs [get]
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.view.Logs(r.Context())
	if err != nil {
		slog.Error("Failed to list action logs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list action logs")
		return
	}

	resp := LogsResponse{Logs: logs}
	if len(logs) == 0 {
		resp.Message = MsgNoLogs
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// GetLog returns one user's action log
// @Summary Get action log
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 200 {object} LogResponse
// @Failure 403 {object} map[string]string "Admin access denied"
// @Router /admin/logs/{username} [get]
func (h *AdminHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		respondWithError(w, http.StatusBadRequest, "Username is required")
		return
	}

	entries, err := h.view.Log(r.Context(), username)
	if err != nil {
		slog.Error("Failed to read action log", "username", username, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read action log")
		return
	}
	if entries == nil {
		entries = []models.ActionEntry{}
	}

	respondWithJSON(w, http.StatusOK, LogResponse{
		Username: username,
		Name:     actionlog.SourceName(username),
		Entries:  entries,
	})
}

// ListUsers returns the roster
// @Summary List users
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Failure 403 {object} map[string]string "Admin access denied"
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.view.Users(r.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respondWithJSON(w, http.StatusOK, users)
}
