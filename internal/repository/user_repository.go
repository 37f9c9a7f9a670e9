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

var (
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository handles roster database operations
type UserRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, dialect database.Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

// Upsert creates the user or replaces its password hash, leaving the admin flag alone
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	query := r.dialect.Rebind(`
		INSERT INTO users (username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET password_hash = excluded.password_hash, updated_at = excluded.updated_at
		RETURNING id
	`)

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query, user.Username, user.PasswordHash, now, now).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	user.UpdatedAt = now
	return nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := r.dialect.Rebind(`
		SELECT id, username, password_hash, COALESCE(is_admin, FALSE), created_at, updated_at
		FROM users
		WHERE username = $1
	`)

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// List retrieves all users ordered by id
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT id, username, password_hash, COALESCE(is_admin, FALSE), created_at, updated_at
		FROM users
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.PasswordHash,
			&user.IsAdmin,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// SetAdmin grants or revokes the admin flag
func (r *UserRepository) SetAdmin(ctx context.Context, username string, isAdmin bool) error {
	query := r.dialect.Rebind(`UPDATE users SET is_admin = $1, updated_at = $2 WHERE username = $3`)

	result, err := r.db.ExecContext(ctx, query, isAdmin, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to update admin flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update admin flag: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// BootstrapAdmin initializes the admin flag on a roster that has never had one.
//
// When no user has an explicit flag yet, every user is set to non-admin and
// exactly one is promoted: preferred if it exists, otherwise the first user.
// It returns the promoted username, or "" when nothing changed.
func (r *UserRepository) BootstrapAdmin(ctx context.Context, preferred string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var flagged int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin IS NOT NULL`).Scan(&flagged); err != nil {
		return "", fmt.Errorf("failed to inspect admin flags: %w", err)
	}
	if flagged > 0 {
		return "", nil
	}

	var (
		id       uint
		username string
	)
	if preferred != "" {
		err = tx.QueryRowContext(ctx, r.dialect.Rebind(`SELECT id, username FROM users WHERE username = $1`), preferred).Scan(&id, &username)
		if err != nil && err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to find bootstrap admin: %w", err)
		}
	}
	if username == "" {
		err = tx.QueryRowContext(ctx, `SELECT id, username FROM users ORDER BY id ASC LIMIT 1`).Scan(&id, &username)
		if err == sql.ErrNoRows {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to find first user: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET is_admin = FALSE`); err != nil {
		return "", fmt.Errorf("failed to reset admin flags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(`UPDATE users SET is_admin = TRUE WHERE id = $1`), id); err != nil {
		return "", fmt.Errorf("failed to promote admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit admin bootstrap: %w", err)
	}
	return username, nil
}
