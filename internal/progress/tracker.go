// Package progress derives each reviewer's position in their assigned pool
// from the action log.
//
// Progress is never stored separately: the rated set is the distinct report
// ids of the user's rating submissions, and the next report is the first
// report in pool order that is not in that set.
package progress

import (
	"context"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

// PoolResolver maps a username to the name of its assigned pool
type PoolResolver interface {
	Resolve(username string) string
}

// ReportSource provides the reports of a pool
type ReportSource interface {
	Load(ctx context.Context, pool string) ([]models.Report, error)
	Get(ctx context.Context, pool, ratingID string) (*models.Report, error)
}

// Tracker computes progress and the next report per user
type Tracker struct {
	pools   PoolResolver
	reports ReportSource
	index   RatedIndex
}

// NewTracker creates a progress tracker
func NewTracker(pools PoolResolver, reports ReportSource, index RatedIndex) *Tracker {
	return &Tracker{pools: pools, reports: reports, index: index}
}

// Pool returns the pool assigned to username
func (t *Tracker) Pool(username string) string {
	return t.pools.Resolve(username)
}

// Rated returns the user's rated set
func (t *Tracker) Rated(ctx context.Context, username string) (map[string]struct{}, error) {
	return t.index.Rated(ctx, username)
}

// Progress counts the reports of the user's pool that have been rated.
// Ratings for reports outside the pool do not count.
func (t *Tracker) Progress(ctx context.Context, username string) (models.Progress, error) {
	pool := t.Pool(username)
	reports, err := t.reports.Load(ctx, pool)
	if err != nil {
		return models.Progress{}, err
	}
	rated, err := t.index.Rated(ctx, username)
	if err != nil {
		return models.Progress{}, err
	}

	count := 0
	for _, r := range reports {
		if _, ok := rated[r.RatingID]; ok {
			count++
		}
	}
	return models.NewProgress(pool, len(reports), count), nil
}

// NextUnrated returns the first report in pool order the user has not rated,
// or nil when the pool is complete
func (t *Tracker) NextUnrated(ctx context.Context, username string) (*models.Report, error) {
	reports, err := t.reports.Load(ctx, t.Pool(username))
	if err != nil {
		return nil, err
	}
	rated, err := t.index.Rated(ctx, username)
	if err != nil {
		return nil, err
	}

	for i := range reports {
		if _, ok := rated[reports[i].RatingID]; !ok {
			report := reports[i]
			return &report, nil
		}
	}
	return nil, nil
}

// Report looks up a report in the user's pool; nil means it is not there
func (t *Tracker) Report(ctx context.Context, username, ratingID string) (*models.Report, error) {
	return t.reports.Get(ctx, t.Pool(username), ratingID)
}

// RecordSubmission updates the rated index after a submission was logged
func (t *Tracker) RecordSubmission(ctx context.Context, username, reportID string) error {
	return t.index.Record(ctx, username, reportID)
}
