package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/internal/models"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// SessionRepository persists review sessions
type SessionRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, dialect database.Dialect) *SessionRepository {
	return &SessionRepository{db: db, dialect: dialect}
}

// Save creates the session or overwrites its navigation state
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	query := r.dialect.Rebind(`
		INSERT INTO review_sessions (id, username, is_admin, state, report_id, expires_at, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			is_admin = excluded.is_admin,
			state = excluded.state,
			report_id = excluded.report_id,
			expires_at = excluded.expires_at,
			last_activity_at = excluded.last_activity_at
	`)

	_, err := r.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.Username,
		session.IsAdmin,
		string(session.State),
		session.ReportID,
		session.ExpiresAt.UTC(),
		session.LastActivityAt.UTC(),
		session.CreatedAt.UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Get retrieves a live session by id
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := r.dialect.Rebind(`
		SELECT id, username, is_admin, state, report_id, expires_at, last_activity_at, created_at
		FROM review_sessions
		WHERE id = $1 AND expires_at > $2
	`)

	session := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id, time.Now().UTC()).Scan(
		&session.ID,
		&session.Username,
		&session.IsAdmin,
		&session.State,
		&session.ReportID,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// Delete deletes a specific session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	query := r.dialect.Rebind(`DELETE FROM review_sessions WHERE id = $1`)
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired deletes all expired sessions and reports how many were removed
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := r.dialect.Rebind(`DELETE FROM review_sessions WHERE expires_at < $1`)
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByUsername deletes all sessions for a user
func (r *SessionRepository) DeleteByUsername(ctx context.Context, username string) error {
	query := r.dialect.Rebind(`DELETE FROM review_sessions WHERE username = $1`)
	_, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
