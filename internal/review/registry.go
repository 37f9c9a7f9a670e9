package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/repository"
)

// ErrSessionExpired is returned for unknown, expired or logged out sessions
var ErrSessionExpired = errors.New("session expired")

// SessionStore persists session values between requests
type SessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUsername(ctx context.Context, username string) error
}

// Registry hands out session ids and applies the idle timeout.
// A new login replaces any earlier session of the same user.
type Registry struct {
	store   SessionStore
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry over store
func NewRegistry(store SessionStore, timeout time.Duration) *Registry {
	return &Registry{store: store, timeout: timeout, now: time.Now}
}

// Create stores a freshly logged in session and assigns its id
func (r *Registry) Create(ctx context.Context, s models.Session) (models.Session, error) {
	if s.State == models.StateLoggedOut || s.Username == "" {
		return s, fmt.Errorf("%w: cannot register a logged out session", ErrInvalidTransition)
	}
	if err := r.store.DeleteByUsername(ctx, s.Username); err != nil {
		return s, fmt.Errorf("failed to replace previous sessions: %w", err)
	}

	now := r.now().UTC()
	s.ID = uuid.New().String()
	s.CreatedAt = now
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(r.timeout)
	if err := r.store.Save(ctx, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Load returns the live session with the given id
func (r *Registry) Load(ctx context.Context, id string) (models.Session, error) {
	s, err := r.store.Get(ctx, id)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return models.Session{}, ErrSessionExpired
	}
	if err != nil {
		return models.Session{}, err
	}
	if !s.ExpiresAt.IsZero() && r.now().After(s.ExpiresAt) {
		return models.Session{}, ErrSessionExpired
	}
	return Normalize(*s), nil
}

// Update persists the result of a transition; a logged out result deletes the session
func (r *Registry) Update(ctx context.Context, id string, s models.Session) error {
	if s.State == models.StateLoggedOut {
		return r.store.Delete(ctx, id)
	}
	now := r.now().UTC()
	s.ID = id
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(r.timeout)
	return r.store.Save(ctx, &s)
}

// MemoryStore keeps sessions in-process
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session), now: time.Now}
}

// Save stores a copy of session
func (m *MemoryStore) Save(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

// Get returns a live session or repository.ErrSessionNotFound
func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || m.now().After(s.ExpiresAt) {
		return nil, repository.ErrSessionNotFound
	}
	return &s, nil
}

// Delete removes a session
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteByUsername removes every session of username
func (m *MemoryStore) DeleteByUsername(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Username == username {
			delete(m.sessions, id)
		}
	}
	return nil
}
