// Package actionlog defines the append-only per-user action ledger.
//
// The ledger is the source of truth for what a reviewer has already rated.
// Entries are never updated or deleted. Appends for different users touch
// disjoint logs; appends for the same user are serialized through Locker,
// which is enough for the single-session-per-user deployment this service
// supports. Two live sessions for one username racing on the same log is a
// known limitation.
package actionlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

var (
	// ErrLogWrite marks a durability failure; the entry may not have been recorded
	ErrLogWrite = errors.New("action log write failed")
	// ErrInvalidEntry marks an entry that violates the log schema
	ErrInvalidEntry = errors.New("invalid action log entry")
)

// Log is an append-only, per-user action ledger
type Log interface {
	// Append durably records one entry. Durability failures wrap ErrLogWrite.
	Append(ctx context.Context, entry models.ActionEntry) error
	// Read returns a user's entries in append order; unknown users yield an empty slice.
	Read(ctx context.Context, username string) ([]models.ActionEntry, error)
	// Users lists every username that has a log.
	Users(ctx context.Context) ([]string, error)
}

// SourceName is the display name of a user's log in the admin view
func SourceName(username string) string {
	return username + "_action_log"
}

// Validate checks the schema rules of an entry before it is written
func Validate(entry models.ActionEntry) error {
	if entry.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidEntry)
	}
	if !entry.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, entry.Action)
	}
	if entry.Action == models.ActionSubmitRating {
		if entry.ReportID == "" {
			return fmt.Errorf("%w: rating submission without report id", ErrInvalidEntry)
		}
		if !entry.Rating.Valid() {
			return fmt.Errorf("%w: unknown rating %q", ErrInvalidEntry, entry.Rating)
		}
		return nil
	}
	if entry.Rating != "" {
		return fmt.Errorf("%w: only rating submissions carry a rating", ErrInvalidEntry)
	}
	return nil
}

// Stamp fills the timestamp with the current time at second resolution
func Stamp(entry models.ActionEntry, now func() time.Time) models.ActionEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now().UTC().Truncate(time.Second)
	}
	return entry
}

// WriteFailure wraps err as a durability failure
func WriteFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrLogWrite, err)
}

// RatedSet derives the distinct report ids a user submitted ratings for
func RatedSet(entries []models.ActionEntry) map[string]struct{} {
	rated := make(map[string]struct{})
	for _, e := range entries {
		if e.Action == models.ActionSubmitRating && e.ReportID != "" {
			rated[e.ReportID] = struct{}{}
		}
	}
	return rated
}

// Locker hands out one mutex per username
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker creates an empty per-user lock table
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for username and returns its release function
func (l *Locker) Lock(username string) func() {
	l.mu.Lock()
	m, ok := l.locks[username]
	if !ok {
		m = &sync.Mutex{}
		l.locks[username] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
