package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pwannenmacher/MetaRate/internal/middleware"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/progress"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
	"github.com/pwannenmacher/MetaRate/internal/review"
	"github.com/pwannenmacher/MetaRate/pkg/validator"
)

const (
	labelStart    = "Start Rating"
	labelContinue = "Continue Rating"
)

// ReviewHandler serves progress and the rating workflow
type ReviewHandler struct {
	machine  *review.Machine
	registry *review.Registry
	tracker  *progress.Tracker
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(machine *review.Machine, registry *review.Registry, tracker *progress.Tracker) *ReviewHandler {
	return &ReviewHandler{
		machine:  machine,
		registry: registry,
		tracker:  tracker,
	}
}

// ProgressResponse describes how far a reviewer is through their pool
type ProgressResponse struct {
	models.Progress
	Label    string      `json:"label"`
	Complete bool        `json:"complete"`
	Session  SessionView `json:"session"`
}

// SubmitRequest represents a rating submission
type SubmitRequest struct {
	Rating  string `json:"rating" validate:"required,max=64"`
	Comment string `json:"comment" validate:"max=4000"`
}

// transition runs op on the request's session and persists the result
func (h *ReviewHandler) transition(w http.ResponseWriter, r *http.Request, op func(models.Session) (review.Result, error)) {
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

// GetProgress returns the reviewer's progress
// @Summary Get progress
// @Description Total and rated report counts for the reviewer's assigned pool
// @Tags Review
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProgressResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 503 {object} map[string]string "Report pool is not available"
// @Router /review/progress [get]
func (h *ReviewHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	p, err := h.tracker.Progress(r.Context(), session.Username)
	if errors.Is(err, reportstore.ErrPoolNotFound) {
		slog.Error("Report pool missing", "username", session.Username, "pool", h.tracker.Pool(session.Username))
		respondWithError(w, http.StatusServiceUnavailable, ErrMsgPoolUnavailable)
		return
	}
	if err != nil {
		slog.Error("Failed to compute progress", "username", session.Username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	label := labelContinue
	if p.Rated == 0 {
		label = labelStart
	}
	respondWithJSON(w, http.StatusOK, ProgressResponse{
		Progress: p,
		Label:    label,
		Complete: p.Complete(),
		Session:  newSessionView(session),
	})
}

// Start opens the next unrated report
// @Summary Start or continue rating
// @Description Move to the first unrated report of the pool, or report completion
// @Tags Review
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ReviewResponse
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /review/start [post]
func (h *ReviewHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s models.Session) (review.Result, error) {
		return h.machine.Start(r.Context(), s)
	})
}

// Current returns the report being rated
// @Summary Get current report
// @Description The report selected for rating together with the rating categories
// @Tags Review
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ReviewResponse
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /review/current [get]
func (h *ReviewHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s models.Session) (review.Result, error) {
		return h.machine.Current(r.Context(), s)
	})
}

// Back returns to the progress page
// @Summary Back to progress
// @Description Leave the rating page or the admin view
// @Tags Review
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ReviewResponse
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /review/back [post]
func (h *ReviewHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s models.Session) (review.Result, error) {
		return h.machine.Back(r.Context(), s)
	})
}

// Submit records a rating for the current report
// @Summary Submit rating
// @Description Record a rating and comment for the current report and advance to the next one
// @Tags Review
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SubmitRequest true "Rating"
// @Success 200 {object} ReviewResponse
// @Failure 400 {object} map[string]string "Invalid rating"
// @Failure 409 {object} map[string]string "Invalid transition"
// @Router /review/submit [post]
func (h *ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}
	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	rating, err := models.ParseRating(req.Rating)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	comment := validator.SanitizeString(req.Comment)

	session, ok := middleware.GetSession(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	res, opErr := h.machine.Submit(r.Context(), session, rating, comment)
	if err := h.registry.Update(r.Context(), session.ID, res.Session); err != nil {
		slog.Error("Failed to persist session", "username", session.Username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}
	if opErr != nil {
		respondWithReviewError(w, res, opErr)
		return
	}

	resp := newReviewResponse(res)
	if res.Warning == "" {
		resp.Message = MsgRatingSubmitted
		if res.Complete {
			resp.Message = MsgRatingSubmitted + ". " + MsgAllRated
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}
