// Package assignment maps reviewers to the report pool they must work through.
//
// The mapping file is a YAML (or JSON) object of pool name to usernames:
//
//	rating_reports_a.jsonl: [alice, bob]
//	rating_reports_b.jsonl: [carol]
//
// Pools are checked in document order and the first pool listing a user wins,
// so a user listed under two pools always resolves to the earlier one. Users
// that are not listed anywhere, or any user when the file does not exist,
// resolve to the default pool.
package assignment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

type poolMembers struct {
	pool    string
	members map[string]struct{}
}

// Mapping is an ordered pool -> members assignment table
type Mapping struct {
	pools []poolMembers
}

// ParseMapping decodes a pool mapping document, preserving pool order
func ParseMapping(data []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pool mapping: %w", err)
	}
	m := &Mapping{}
	if len(doc.Content) == 0 {
		return m, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pool mapping must be an object of pool name to usernames")
	}

	owner := make(map[string]string)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var users []string
		if err := value.Decode(&users); err != nil {
			return nil, fmt.Errorf("pool %q: members must be a list of usernames: %w", key.Value, err)
		}
		entry := poolMembers{pool: key.Value, members: make(map[string]struct{}, len(users))}
		for _, u := range users {
			entry.members[u] = struct{}{}
			if first, dup := owner[u]; dup && first != key.Value {
				slog.Warn("User assigned to more than one pool, first match wins",
					"username", u, "pool", first, "ignored_pool", key.Value)
				continue
			}
			owner[u] = key.Value
		}
		m.pools = append(m.pools, entry)
	}

	return m, nil
}

// Lookup returns the first pool listing username
func (m *Mapping) Lookup(username string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, p := range m.pools {
		if _, ok := p.members[username]; ok {
			return p.pool, true
		}
	}
	return "", false
}

// Pools returns the configured pool names in document order
func (m *Mapping) Pools() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.pools))
	for _, p := range m.pools {
		names = append(names, p.pool)
	}
	return names
}

// Resolver resolves users to pools from a mapping file with a default fallback
type Resolver struct {
	path        string
	defaultPool string

	mu      sync.RWMutex
	mapping *Mapping
}

// NewResolver loads the mapping at path. A missing file is not an error.
func NewResolver(path, defaultPool string) (*Resolver, error) {
	r := &Resolver{path: path, defaultPool: defaultPool}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticResolver builds a resolver over an in-memory mapping
func NewStaticResolver(mapping *Mapping, defaultPool string) *Resolver {
	return &Resolver{defaultPool: defaultPool, mapping: mapping}
}

// Reload re-reads the mapping file; the previous mapping stays in place on error
func (r *Resolver) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("No pool mapping file, every user resolves to the default pool",
			"path", r.path, "default_pool", r.defaultPool)
		r.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pool mapping: %w", err)
	}

	mapping, err := ParseMapping(data)
	if err != nil {
		return err
	}
	r.set(mapping)
	return nil
}

func (r *Resolver) set(m *Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapping = m
}

// Resolve returns the pool assigned to username. It never fails.
func (r *Resolver) Resolve(username string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pool, ok := r.mapping.Lookup(username); ok {
		return pool
	}
	return r.defaultPool
}

// Pools returns the mapped pool names in document order followed by the default pool
func (r *Resolver) Pools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pools := r.mapping.Pools()
	if !slices.Contains(pools, r.defaultPool) {
		pools = append(pools, r.defaultPool)
	}
	return pools
}
