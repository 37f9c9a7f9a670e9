// Package scheduler runs periodic maintenance tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of periodic work
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler handles periodic tasks
type Scheduler struct {
	tasks    []Task
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler. Tasks with a non-positive interval are skipped.
func NewScheduler(tasks ...Task) *Scheduler {
	enabled := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Interval <= 0 {
			slog.Info("Scheduled task disabled", "task", t.Name)
			continue
		}
		enabled = append(enabled, t)
	}
	return &Scheduler{
		tasks:    enabled,
		stopChan: make(chan struct{}),
	}
}

// Start starts all scheduled tasks
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.scheduleIntervalTask(ctx, t)
	}
	slog.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop stops the scheduler and waits for running tasks to return
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Stopping scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// scheduleIntervalTask runs a task at regular intervals
func (s *Scheduler) scheduleIntervalTask(ctx context.Context, t Task) {
	defer s.wg.Done()
	slog.Info("Starting interval task", "task", t.Name, "interval", t.Interval)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runTask(ctx, t)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func runTask(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled task panicked", "task", t.Name, "panic", r)
		}
	}()
	if err := t.Run(ctx); err != nil {
		slog.Error("Scheduled task failed", "task", t.Name, "error", err)
	}
}

// SessionPurger deletes sessions past their expiry
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionCleanupTask removes expired review sessions
func SessionCleanupTask(purger SessionPurger, interval time.Duration) Task {
	return Task{
		Name:     "session_cleanup",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := purger.DeleteExpired(ctx)
			if err != nil {
				return fmt.Errorf("failed to delete expired sessions: %w", err)
			}
			if n > 0 {
				slog.Info("Expired sessions removed", "count", n)
			}
			return nil
		},
	}
}

// Reloader re-reads a configuration source
type Reloader interface {
	Reload() error
}

// PoolCache holds decoded report pools
type PoolCache interface {
	InvalidateAll()
}

// PoolReloadTask re-reads the user to pool mapping and drops cached pools so
// edited pool files are picked up on next access
func PoolReloadTask(r Reloader, cache PoolCache, interval time.Duration) Task {
	return Task{
		Name:     "pool_reload",
		Interval: interval,
		Run: func(context.Context) error {
			if err := r.Reload(); err != nil {
				return fmt.Errorf("failed to reload pool mapping: %w", err)
			}
			cache.InvalidateAll()
			return nil
		},
	}
}
