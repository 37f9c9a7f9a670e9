package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/internal/models"
)

// ActionLogRepository stores action logs in the action_logs table
type ActionLogRepository struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewActionLogRepository creates a new action log repository
func NewActionLogRepository(db *sql.DB, dialect database.Dialect) *ActionLogRepository {
	return &ActionLogRepository{db: db, dialect: dialect, now: time.Now}
}

// Append inserts a new action log entry
func (r *ActionLogRepository) Append(ctx context.Context, entry models.ActionEntry) error {
	if err := actionlog.Validate(entry); err != nil {
		return err
	}
	entry = actionlog.Stamp(entry, r.now)

	query := r.dialect.Rebind(`
		INSERT INTO action_logs (username, action, report_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`)

	var id uint
	err := r.db.QueryRowContext(
		ctx,
		query,
		entry.Username,
		string(entry.Action),
		entry.ReportID,
		string(entry.Rating),
		entry.Comment,
		entry.Timestamp,
	).Scan(&id)

	if err != nil {
		return actionlog.WriteFailure(fmt.Errorf("failed to create action log entry: %w", err))
	}

	return nil
}

// Read retrieves a user's action log in append order
func (r *ActionLogRepository) Read(ctx context.Context, username string) ([]models.ActionEntry, error) {
	query := r.dialect.Rebind(`
		SELECT id, username, action, report_id, rating, comment, created_at
		FROM action_logs
		WHERE username = $1
		ORDER BY id ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get action log: %w", err)
	}
	defer rows.Close()

	entries := []models.ActionEntry{}
	for rows.Next() {
		var entry models.ActionEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Username,
			&entry.Action,
			&entry.ReportID,
			&entry.Rating,
			&entry.Comment,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action log: %w", err)
	}

	return entries, nil
}

// RatedReportIDs returns the distinct report ids the user submitted ratings for
func (r *ActionLogRepository) RatedReportIDs(ctx context.Context, username string) ([]string, error) {
	query := r.dialect.Rebind(`
		SELECT DISTINCT report_id
		FROM action_logs
		WHERE username = $1 AND action = $2 AND report_id <> ''
	`)

	rows, err := r.db.QueryContext(ctx, query, username, string(models.ActionSubmitRating))
	if err != nil {
		return nil, fmt.Errorf("failed to get rated reports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Users lists every username that has logged an action
func (r *ActionLogRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT username FROM action_logs ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list action log users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan username: %w", err)
		}
		users = append(users, username)
	}
	return users, rows.Err()
}
