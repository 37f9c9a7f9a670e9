package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
)

// RatedIndex answers which reports a user has already rated
type RatedIndex interface {
	// Rated returns the distinct report ids the user submitted ratings for.
	Rated(ctx context.Context, username string) (map[string]struct{}, error)
	// Record notes a submission that was already appended to the action log.
	Record(ctx context.Context, username, reportID string) error
}

// ratedLister is implemented by logs that can answer the rated set directly
type ratedLister interface {
	RatedReportIDs(ctx context.Context, username string) ([]string, error)
}

// ScanIndex derives the rated set from the action log on every call
type ScanIndex struct {
	log actionlog.Log
}

// NewScanIndex creates an index that reads log on demand
func NewScanIndex(log actionlog.Log) *ScanIndex {
	return &ScanIndex{log: log}
}

// Rated scans the user's log
func (s *ScanIndex) Rated(ctx context.Context, username string) (map[string]struct{}, error) {
	if lister, ok := s.log.(ratedLister); ok {
		ids, err := lister.RatedReportIDs(ctx, username)
		if err != nil {
			return nil, err
		}
		rated := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			rated[id] = struct{}{}
		}
		return rated, nil
	}

	entries, err := s.log.Read(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	return actionlog.RatedSet(entries), nil
}

// Record is a no-op; the next scan sees the appended entry
func (s *ScanIndex) Record(context.Context, string, string) error {
	return nil
}

// RedisIndex caches rated sets in Redis and rebuilds them from the log on a miss.
//
// A user's set is authoritative only while its marker key exists. Any failure
// to keep the set in step with the log drops the marker so the next read
// rebuilds from the log.
type RedisIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	scan   *ScanIndex
}

// NewRedisIndex creates a Redis backed index over log
func NewRedisIndex(client *redis.Client, prefix string, ttl time.Duration, log actionlog.Log) *RedisIndex {
	return &RedisIndex{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		scan:   NewScanIndex(log),
	}
}

func (r *RedisIndex) setKey(username string) string {
	return r.prefix + "rated:" + username
}

func (r *RedisIndex) markerKey(username string) string {
	return r.prefix + "rated-built:" + username
}

// keyTTL is the expiry for index keys; a non-positive ttl keeps them without expiry
func (r *RedisIndex) keyTTL() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}

func (r *RedisIndex) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}

// Rated serves the cached set, rebuilding it when the marker is absent
func (r *RedisIndex) Rated(ctx context.Context, username string) (map[string]struct{}, error) {
	var (
		exists  *redis.IntCmd
		members *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, r.markerKey(username))
		members = pipe.SMembers(ctx, r.setKey(username))
		return nil
	})
	if err != nil {
		slog.Warn("Rated index unavailable, scanning action log", "username", username, "error", err)
		return r.scan.Rated(ctx, username)
	}

	if exists.Val() == 1 {
		rated := make(map[string]struct{}, len(members.Val()))
		for _, id := range members.Val() {
			rated[id] = struct{}{}
		}
		return rated, nil
	}

	return r.rebuild(ctx, username)
}

func (r *RedisIndex) rebuild(ctx context.Context, username string) (map[string]struct{}, error) {
	rated, err := r.scan.Rated(ctx, username)
	if err != nil {
		return nil, err
	}

	ids := make([]interface{}, 0, len(rated))
	for id := range rated {
		ids = append(ids, id)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.setKey(username))
		if len(ids) > 0 {
			pipe.SAdd(ctx, r.setKey(username), ids...)
			r.expire(ctx, pipe, r.setKey(username))
		}
		pipe.Set(ctx, r.markerKey(username), "1", r.keyTTL())
		return nil
	})
	if err != nil {
		slog.Warn("Failed to rebuild rated index", "username", username, "error", err)
	}
	return rated, nil
}

// Record adds reportID to a built set; unbuilt sets are left for the next rebuild
func (r *RedisIndex) Record(ctx context.Context, username, reportID string) error {
	built, err := r.client.Exists(ctx, r.markerKey(username)).Result()
	if err == nil && built == 0 {
		return nil
	}
	if err == nil {
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, r.setKey(username), reportID)
			r.expire(ctx, pipe, r.setKey(username))
			return nil
		})
	}
	if err == nil {
		return nil
	}

	if delErr := r.client.Del(ctx, r.markerKey(username)).Err(); delErr != nil {
		return fmt.Errorf("failed to update rated index: %w", err)
	}
	slog.Warn("Rated index update failed, index will be rebuilt", "username", username, "error", err)
	return nil
}
