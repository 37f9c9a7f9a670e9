package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Report represents a single generated text report awaiting review
type Report struct {
	RatingID     string                     `json:"rating_id"`
	ReportToRate string                     `json:"report_to_rate"`
	Fields       map[string]json.RawMessage `json:"fields,omitempty"`
}

// Body returns the report text or "N/A" when the record carries none
func (r *Report) Body() string {
	if r.ReportToRate == "" {
		return "N/A"
	}
	return r.ReportToRate
}

// Rating is the closed set of categories a reviewer can assign
type Rating string

const (
	RatingNoError         Rating = "no_error"
	RatingLateralityError Rating = "laterality_error"
	RatingNegationError   Rating = "negation_error"
	RatingOtherError      Rating = "other_error"
)

// Ratings lists all categories in presentation order
var Ratings = []Rating{
	RatingNoError,
	RatingLateralityError,
	RatingNegationError,
	RatingOtherError,
}

var ratingLabels = map[Rating]string{
	RatingNoError:         "No error",
	RatingLateralityError: "Laterality error",
	RatingNegationError:   "Negation error",
	RatingOtherError:      "Other error",
}

// Label returns the human readable name of the rating
func (r Rating) Label() string {
	return ratingLabels[r]
}

// Valid reports whether r is one of the known categories
func (r Rating) Valid() bool {
	_, ok := ratingLabels[r]
	return ok
}

// ParseRating accepts either the identifier or the human label
func ParseRating(s string) (Rating, error) {
	if Rating(s).Valid() {
		return Rating(s), nil
	}
	for rating, label := range ratingLabels {
		if label == s {
			return rating, nil
		}
	}
	return "", fmt.Errorf("unknown rating %q", s)
}

// ActionKind identifies the type of an action log entry
type ActionKind string

const (
	ActionLogin        ActionKind = "login"
	ActionLoginFailure ActionKind = "login_failure"
	ActionLogout       ActionKind = "logout"
	ActionNavigateBack ActionKind = "navigate_back"
	ActionSubmitRating ActionKind = "submit_rating"
)

// Valid reports whether k is a known action kind
func (k ActionKind) Valid() bool {
	switch k {
	case ActionLogin, ActionLoginFailure, ActionLogout, ActionNavigateBack, ActionSubmitRating:
		return true
	}
	return false
}

// ActionEntry represents one immutable action log record
type ActionEntry struct {
	ID        uint       `json:"id,omitempty" db:"id"`
	Timestamp time.Time  `json:"timestamp" db:"created_at"`
	Username  string     `json:"username" db:"username"`
	Action    ActionKind `json:"action" db:"action"`
	ReportID  string     `json:"report_id,omitempty" db:"report_id"`
	Rating    Rating     `json:"rating,omitempty" db:"rating"`
	Comment   string     `json:"comment,omitempty" db:"comment"`
}

// User represents a reviewer in the roster
type User struct {
	ID           uint      `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Progress summarizes how much of a pool a user has rated
type Progress struct {
	Pool     string  `json:"pool"`
	Total    int     `json:"total"`
	Rated    int     `json:"rated"`
	Fraction float64 `json:"fraction"`
}

// NewProgress computes the completion fraction, guarding against empty pools
func NewProgress(pool string, total, rated int) Progress {
	p := Progress{Pool: pool, Total: total, Rated: rated}
	if total > 0 {
		p.Fraction = float64(rated) / float64(total)
	}
	return p
}

// Complete reports whether every report in the pool has been rated
func (p Progress) Complete() bool {
	return p.Rated >= p.Total
}

// ActionLogSummary describes one user's action log for the admin view
type ActionLogSummary struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
}

// ReviewState is the screen a review session is on
type ReviewState string

const (
	StateLoggedOut ReviewState = "logged_out"
	StateProgress  ReviewState = "progress"
	StateRating    ReviewState = "rating"
	StateAdmin     ReviewState = "admin"
)

// Session represents one reviewer's navigation state.
// ReportID is set only while State is StateRating.
type Session struct {
	ID             string      `json:"id" db:"id"`
	Username       string      `json:"username" db:"username"`
	IsAdmin        bool        `json:"is_admin" db:"is_admin"`
	State          ReviewState `json:"state" db:"state"`
	ReportID       string      `json:"report_id,omitempty" db:"report_id"`
	ExpiresAt      time.Time   `json:"expires_at" db:"expires_at"`
	LastActivityAt time.Time   `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}
