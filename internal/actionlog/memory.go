package actionlog

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

// MemoryLog keeps action logs in-process
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]models.ActionEntry
	nextID  uint
	now     func() time.Time
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		entries: make(map[string][]models.ActionEntry),
		now:     time.Now,
	}
}

// Append records an entry
func (m *MemoryLog) Append(_ context.Context, entry models.ActionEntry) error {
	if err := Validate(entry); err != nil {
		return err
	}
	entry = Stamp(entry, m.now)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.entries[entry.Username] = append(m.entries[entry.Username], entry)
	return nil
}

// Read returns a copy of the user's entries in append order
func (m *MemoryLog) Read(_ context.Context, username string) ([]models.ActionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[username]), nil
}

// Users lists usernames with at least one entry
func (m *MemoryLog) Users(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.entries))
	for u := range m.entries {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}
