// Package reportstore loads the read-only pools of reports that reviewers rate.
//
// A pool whose source is missing yields ErrPoolNotFound. A pool whose source
// exists but holds no records yields an empty slice and a nil error.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

var (
	ErrPoolNotFound      = errors.New("report pool not found")
	ErrDuplicateReportID = errors.New("duplicate rating_id in pool")
)

type pool struct {
	reports []models.Report
	index   map[string]int
}

// Store caches decoded pools for the lifetime of the process.
// Concurrent first loads of one pool share a single read; distinct pools load in parallel.
type Store struct {
	source Source
	loads  singleflight.Group

	mu    sync.Mutex
	pools map[string]*pool
	gen   uint64
}

// NewStore creates a lazily populated pool cache over source
func NewStore(source Source) *Store {
	return &Store{
		source: source,
		pools:  make(map[string]*pool),
	}
}

// Load returns the reports of a pool in source order
func (s *Store) Load(ctx context.Context, name string) ([]models.Report, error) {
	p, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.reports), nil
}

// Get returns a single report of a pool, or nil if the pool has no such id
func (s *Store) Get(ctx context.Context, name, ratingID string) (*models.Report, error) {
	p, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	i, ok := p.index[ratingID]
	if !ok {
		return nil, nil
	}
	report := p.reports[i]
	return &report, nil
}

// InvalidateAll drops every cached pool. Loads already in flight are not cached.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = make(map[string]*pool)
	s.gen++
}

func (s *Store) cached(name string) (*pool, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[name]
	return p, s.gen, ok
}

func (s *Store) get(ctx context.Context, name string) (*pool, error) {
	if p, _, ok := s.cached(name); ok {
		return p, nil
	}

	v, err, _ := s.loads.Do(name, func() (interface{}, error) {
		p, gen, ok := s.cached(name)
		if ok {
			return p, nil
		}
		p, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gen == gen {
			s.pools[name] = p
		}
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pool), nil
}

func (s *Store) load(ctx context.Context, name string) (*pool, error) {
	rc, err := s.source.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			slog.Warn("Failed to close pool source", "pool", name, "error", err)
		}
	}()

	reports, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pool %s: %w", name, err)
	}

	p := &pool{reports: reports, index: make(map[string]int, len(reports))}
	for i, r := range reports {
		p.index[r.RatingID] = i
	}
	slog.Info("Loaded report pool", "pool", name, "reports", len(reports))

	return p, nil
}
