// Package roster manages reviewer accounts: importing them from a roster
// file, the one-time bootstrap of the admin flag, and credential checks.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/repository"
	"github.com/pwannenmacher/MetaRate/internal/review"
	"github.com/pwannenmacher/MetaRate/pkg/validator"
)

// ErrConfigMissing is returned when there is no roster to authenticate against
var ErrConfigMissing = errors.New("user roster is not configured")

// Entry is one account in a roster file. Exactly one of Password or
// PasswordHash is set; IsAdmin is optional.
type Entry struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	IsAdmin      *bool  `yaml:"is_admin"`
}

// UserStore is the roster persistence the service needs
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	SetAdmin(ctx context.Context, username string, isAdmin bool) error
	BootstrapAdmin(ctx context.Context, preferred string) (string, error)
}

// PasswordHasher hashes and verifies credentials
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hashedPassword, password string) error
}

// Service handles roster business logic
type Service struct {
	users  UserStore
	hasher PasswordHasher
	// dummyHash keeps unknown-user checks as slow as wrong-password checks
	dummyHash string
}

// NewService creates a new roster service
func NewService(users UserStore, hasher PasswordHasher) *Service {
	dummy, err := hasher.HashPassword("metarate-timing-guard")
	if err != nil {
		slog.Warn("Failed to prepare dummy password hash", "error", err)
	}
	return &Service{users: users, hasher: hasher, dummyHash: dummy}
}

// ParseEntries decodes a YAML (or JSON) roster document
func ParseEntries(data []byte) ([]Entry, error) {
	var doc struct {
		Users []Entry `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid roster: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Users))
	for i, e := range doc.Users {
		name := strings.TrimSpace(e.Username)
		if name == "" {
			return nil, fmt.Errorf("invalid roster: entry %d has no username", i+1)
		}
		if err := validator.ValidateUsername(name); err != nil {
			return nil, fmt.Errorf("invalid roster: entry %d: %w", i+1, err)
		}
		if (e.Password == "") == (e.PasswordHash == "") {
			return nil, fmt.Errorf("invalid roster: user %q needs exactly one of password or password_hash", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("invalid roster: user %q listed twice", name)
		}
		seen[name] = struct{}{}
		doc.Users[i].Username = name
	}
	return doc.Users, nil
}

// Import upserts entries into the store and applies explicit admin flags
func (s *Service) Import(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		hash := e.PasswordHash
		if hash == "" {
			var err error
			if hash, err = s.hasher.HashPassword(e.Password); err != nil {
				return fmt.Errorf("failed to hash password for %s: %w", e.Username, err)
			}
		}

		user := &models.User{Username: e.Username, PasswordHash: hash}
		if err := s.users.Upsert(ctx, user); err != nil {
			return fmt.Errorf("failed to import %s: %w", e.Username, err)
		}
		if e.IsAdmin != nil {
			if err := s.users.SetAdmin(ctx, e.Username, *e.IsAdmin); err != nil {
				return fmt.Errorf("failed to set admin flag for %s: %w", e.Username, err)
			}
		}
	}
	return nil
}

// ImportFile imports the roster file at path. A missing file is reported as
// ErrConfigMissing only when the store has no users either.
func (s *Service) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		users, listErr := s.users.List(ctx)
		if listErr != nil {
			return listErr
		}
		if len(users) == 0 {
			return fmt.Errorf("%w: %s not found and no users stored", ErrConfigMissing, path)
		}
		slog.Info("No roster file, using stored users", "path", path, "users", len(users))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}

	entries, err := ParseEntries(data)
	if err != nil {
		return err
	}
	if err := s.Import(ctx, entries); err != nil {
		return err
	}
	slog.Info("Roster imported", "path", path, "users", len(entries))
	return nil
}

// Bootstrap runs the one-time admin flag initialization
func (s *Service) Bootstrap(ctx context.Context, preferred string) error {
	admin, err := s.users.BootstrapAdmin(ctx, preferred)
	if err != nil {
		return err
	}
	if admin != "" {
		slog.Info("Initialized admin flags", "admin", admin)
	}
	return nil
}

// Authenticate checks a username and password against the roster
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, review.ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		users, listErr := s.users.List(ctx)
		if listErr != nil {
			return nil, listErr
		}
		if len(users) == 0 {
			return nil, ErrConfigMissing
		}
		if s.dummyHash != "" {
			_ = s.hasher.VerifyPassword(s.dummyHash, password)
		}
		return nil, review.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := s.hasher.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, review.ErrInvalidCredentials
	}
	return user, nil
}
