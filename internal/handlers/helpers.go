package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
	"github.com/pwannenmacher/MetaRate/internal/review"
)

// Common error message constants shared across handlers
const (
	ErrMsgInvalidRequestBody = "Invalid request body"
	ErrMsgUnauthorized       = "Unauthorized"
	ErrMsgInvalidCredentials = "Invalid username or password"
	ErrMsgRosterMissing      = "User roster is not configured"
	ErrMsgPoolUnavailable    = "Report pool is not available"
	ErrMsgAdminDenied        = "Admin access denied"
	ErrMsgInternal           = "Internal server error"
	MsgReportGone            = "The selected report is no longer available."
	MsgRatingSubmitted       = "Rating submitted"
	MsgAllRated              = "All reports in your pool have been rated."
	MsgNoLogs                = "No action logs found."
)

// SessionView is the client facing part of a review session
type SessionView struct {
	Username string             `json:"username"`
	IsAdmin  bool               `json:"is_admin"`
	State    models.ReviewState `json:"state"`
	ReportID string             `json:"report_id,omitempty"`
}

// ReportView is a report as shown on the rating page
type ReportView struct {
	RatingID     string                     `json:"rating_id"`
	ReportToRate string                     `json:"report_to_rate"`
	Fields       map[string]json.RawMessage `json:"fields,omitempty"`
}

// CategoryView is one selectable rating
type CategoryView struct {
	Value models.Rating `json:"value"`
	Label string        `json:"label"`
}

// ReviewResponse is returned by every navigation endpoint
type ReviewResponse struct {
	Session    SessionView    `json:"session"`
	Report     *ReportView    `json:"report,omitempty"`
	Categories []CategoryView `json:"categories,omitempty"`
	Complete   bool           `json:"complete,omitempty"`
	Message    string         `json:"message,omitempty"`
	Warning    string         `json:"warning,omitempty"`
}

func newSessionView(s models.Session) SessionView {
	return SessionView{
		Username: s.Username,
		IsAdmin:  s.IsAdmin,
		State:    s.State,
		ReportID: s.ReportID,
	}
}

func categories() []CategoryView {
	views := make([]CategoryView, 0, len(models.Ratings))
	for _, r := range models.Ratings {
		views = append(views, CategoryView{Value: r, Label: r.Label()})
	}
	return views
}

func newReviewResponse(res review.Result) ReviewResponse {
	resp := ReviewResponse{
		Session:  newSessionView(res.Session),
		Complete: res.Complete,
		Warning:  res.Warning,
	}
	if res.Report != nil && res.Session.State == models.StateRating {
		resp.Report = &ReportView{
			RatingID:     res.Report.RatingID,
			ReportToRate: res.Report.Body(),
			Fields:       res.Report.Fields,
		}
		resp.Categories = categories()
	}
	if res.Complete {
		resp.Message = MsgAllRated
	}
	return resp
}

// respondWithReviewError maps state machine errors onto HTTP responses
func respondWithReviewError(w http.ResponseWriter, res review.Result, err error) {
	switch {
	case errors.Is(err, review.ErrReportNotFound):
		resp := newReviewResponse(res)
		resp.Message = MsgReportGone
		respondWithJSON(w, http.StatusOK, resp)
	case errors.Is(err, review.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrInvalidRating):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrUnauthorized):
		respondWithError(w, http.StatusForbidden, ErrMsgAdminDenied)
	case errors.Is(err, reportstore.ErrPoolNotFound):
		slog.Error("Report pool missing", "username", res.Session.Username, "error", err)
		respondWithError(w, http.StatusServiceUnavailable, ErrMsgPoolUnavailable)
	default:
		slog.Error("Review operation failed", "username", res.Session.Username, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternal)
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
