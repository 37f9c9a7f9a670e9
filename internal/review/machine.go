// Package review implements the reviewer navigation state machine.
//
// A session moves between LoggedOut, Progress, Rating and Admin. Every
// transition takes the current session value and returns the next one;
// nothing is read from or written to shared state besides the action log.
// The session in a returned Result is always safe to persist, including
// when the transition also returns an error.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/models"
)

var (
	ErrAuthFailure       = errors.New("invalid username or password")
	ErrReportNotFound    = errors.New("report not found")
	ErrUnauthorized      = errors.New("admin access denied")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidRating     = errors.New("invalid rating")
)

// ErrInvalidCredentials is returned by an Authenticator for a bad username or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// LogWriteWarning is shown when an action may not have been recorded
const LogWriteWarning = "Your last action may not have been recorded. Please verify and try again."

// Authenticator checks credentials against the roster
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// Tracker is the progress information the machine needs
type Tracker interface {
	NextUnrated(ctx context.Context, username string) (*models.Report, error)
	Report(ctx context.Context, username, ratingID string) (*models.Report, error)
	RecordSubmission(ctx context.Context, username, reportID string) error
}

// Observer receives counters for notable events
type Observer interface {
	LoginAttempt(success bool)
	RatingSubmitted(rating models.Rating)
	LogWriteFailed(action models.ActionKind)
}

type nopObserver struct{}

func (nopObserver) LoginAttempt(bool)                {}
func (nopObserver) RatingSubmitted(models.Rating)    {}
func (nopObserver) LogWriteFailed(models.ActionKind) {}

// Result is the outcome of a transition
type Result struct {
	Session models.Session
	// Report is the report being rated when Session is in the rating state
	Report *models.Report
	// Complete is set when a start or submit found no unrated report left
	Complete bool
	// Warning is non-empty when the action log could not record the transition
	Warning string
}

// Machine performs session transitions and their action log effects
type Machine struct {
	auth     Authenticator
	tracker  Tracker
	log      actionlog.Log
	observer Observer
}

// NewMachine creates a state machine. observer may be nil.
func NewMachine(auth Authenticator, tracker Tracker, log actionlog.Log, observer Observer) *Machine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Machine{auth: auth, tracker: tracker, log: log, observer: observer}
}

// Normalize coerces a session with an unknown or inconsistent state back to Progress
func Normalize(s models.Session) models.Session {
	switch s.State {
	case models.StateLoggedOut:
		return models.Session{State: models.StateLoggedOut}
	case models.StateProgress, models.StateAdmin:
		s.ReportID = ""
		return s
	case models.StateRating:
		if s.ReportID != "" {
			return s
		}
	}
	slog.Warn("Coercing session to progress", "username", s.Username, "state", s.State)
	s.State = models.StateProgress
	s.ReportID = ""
	return s
}

func (m *Machine) record(ctx context.Context, entry models.ActionEntry) string {
	if err := m.log.Append(ctx, entry); err != nil {
		m.observer.LogWriteFailed(entry.Action)
		slog.Error("Failed to append action log entry",
			"username", entry.Username, "action", entry.Action, "report_id", entry.ReportID, "error", err)
		return LogWriteWarning
	}
	return ""
}

func invalid(s models.Session, op string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, op, s.State)
}

// Login authenticates and moves a logged out session to Progress.
// A failed attempt is logged only when a username was supplied.
func (m *Machine) Login(ctx context.Context, username, password string) (Result, error) {
	username = strings.TrimSpace(username)
	loggedOut := models.Session{State: models.StateLoggedOut}

	user, err := m.auth.Authenticate(ctx, username, password)
	if errors.Is(err, ErrInvalidCredentials) {
		m.observer.LoginAttempt(false)
		res := Result{Session: loggedOut}
		if username != "" {
			res.Warning = m.record(ctx, models.ActionEntry{Username: username, Action: models.ActionLoginFailure})
		}
		slog.Info("Login failed", "username", username)
		return res, ErrAuthFailure
	}
	if err != nil {
		return Result{Session: loggedOut}, err
	}

	m.observer.LoginAttempt(true)
	session := models.Session{
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		State:    models.StateProgress,
	}
	warning := m.record(ctx, models.ActionEntry{Username: user.Username, Action: models.ActionLogin})
	slog.Info("User logged in", "username", user.Username, "is_admin", user.IsAdmin)
	return Result{Session: session, Warning: warning}, nil
}

// Logout ends a session from any logged in state and clears it
func (m *Machine) Logout(ctx context.Context, s models.Session) (Result, error) {
	if s.State == models.StateLoggedOut {
		return Result{Session: s}, invalid(s, "log out")
	}
	warning := m.record(ctx, models.ActionEntry{Username: s.Username, Action: models.ActionLogout})
	slog.Info("User logged out", "username", s.Username)
	return Result{Session: models.Session{State: models.StateLoggedOut}, Warning: warning}, nil
}

// Start moves from Progress to the next unrated report, or reports completion
func (m *Machine) Start(ctx context.Context, s models.Session) (Result, error) {
	s = Normalize(s)
	if s.State != models.StateProgress {
		return Result{Session: s}, invalid(s, "start rating")
	}

	next, err := m.tracker.NextUnrated(ctx, s.Username)
	if err != nil {
		return Result{Session: s}, err
	}
	if next == nil {
		return Result{Session: s, Complete: true}, nil
	}

	s.State = models.StateRating
	s.ReportID = next.RatingID
	return Result{Session: s, Report: next}, nil
}

// Current resolves the report of a rating session. A report that no longer
// exists sends the session back to Progress with ErrReportNotFound.
func (m *Machine) Current(ctx context.Context, s models.Session) (Result, error) {
	s = Normalize(s)
	if s.State != models.StateRating {
		return Result{Session: s}, invalid(s, "view a report")
	}

	report, err := m.tracker.Report(ctx, s.Username, s.ReportID)
	if err != nil {
		return Result{Session: s}, err
	}
	if report == nil {
		return m.reportGone(s)
	}
	return Result{Session: s, Report: report}, nil
}

func (m *Machine) reportGone(s models.Session) (Result, error) {
	slog.Warn("Selected report no longer exists", "username", s.Username, "report_id", s.ReportID)
	s.State = models.StateProgress
	s.ReportID = ""
	return Result{Session: s}, ErrReportNotFound
}

// Back returns to Progress from Rating or Admin
func (m *Machine) Back(ctx context.Context, s models.Session) (Result, error) {
	s = Normalize(s)
	switch s.State {
	case models.StateRating:
		warning := m.record(ctx, models.ActionEntry{
			Username: s.Username,
			Action:   models.ActionNavigateBack,
			ReportID: s.ReportID,
		})
		s.State = models.StateProgress
		s.ReportID = ""
		return Result{Session: s, Warning: warning}, nil
	case models.StateAdmin:
		s.State = models.StateProgress
		return Result{Session: s}, nil
	}
	return Result{Session: s}, invalid(s, "go back")
}

// Submit records a rating for the current report and advances to the next one.
// If the log cannot record it the session stays on the same report.
func (m *Machine) Submit(ctx context.Context, s models.Session, rating models.Rating, comment string) (Result, error) {
	s = Normalize(s)
	if s.State != models.StateRating {
		return Result{Session: s}, invalid(s, "submit a rating")
	}
	if !rating.Valid() {
		return Result{Session: s}, fmt.Errorf("%w: %q", ErrInvalidRating, rating)
	}

	report, err := m.tracker.Report(ctx, s.Username, s.ReportID)
	if err != nil {
		return Result{Session: s}, err
	}
	if report == nil {
		return m.reportGone(s)
	}

	warning := m.record(ctx, models.ActionEntry{
		Username: s.Username,
		Action:   models.ActionSubmitRating,
		ReportID: s.ReportID,
		Rating:   rating,
		Comment:  comment,
	})
	if warning != "" {
		return Result{Session: s, Report: report, Warning: warning}, nil
	}

	m.observer.RatingSubmitted(rating)
	slog.Info("Rating submitted", "username", s.Username, "report_id", s.ReportID, "rating", rating)
	if err := m.tracker.RecordSubmission(ctx, s.Username, s.ReportID); err != nil {
		slog.Warn("Failed to update rated index", "username", s.Username, "error", err)
	}

	next, err := m.tracker.NextUnrated(ctx, s.Username)
	if err != nil {
		s.State = models.StateProgress
		s.ReportID = ""
		return Result{Session: s}, err
	}
	if next == nil {
		s.State = models.StateProgress
		s.ReportID = ""
		return Result{Session: s, Complete: true}, nil
	}

	s.ReportID = next.RatingID
	return Result{Session: s, Report: next}, nil
}

// EnterAdmin opens the admin view for admins; everyone else stays in Progress
func (m *Machine) EnterAdmin(_ context.Context, s models.Session) (Result, error) {
	s = Normalize(s)
	if s.State != models.StateProgress {
		return Result{Session: s}, invalid(s, "enter admin")
	}
	if !s.IsAdmin {
		slog.Warn("Non-admin attempted to enter admin view", "username", s.Username)
		return Result{Session: s}, ErrUnauthorized
	}
	s.State = models.StateAdmin
	return Result{Session: s}, nil
}

// ExitAdmin leaves the admin view
func (m *Machine) ExitAdmin(ctx context.Context, s models.Session) (Result, error) {
	s = Normalize(s)
	if s.State != models.StateAdmin {
		return Result{Session: s}, invalid(s, "exit admin")
	}
	return m.Back(ctx, s)
}

// RequireAdmin fails closed unless the session is an admin in the admin view
func RequireAdmin(s models.Session) error {
	if !s.IsAdmin || s.State != models.StateAdmin {
		return ErrUnauthorized
	}
	return nil
}
