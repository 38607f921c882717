// Package cache wraps a store with a Redis read-through cache for the
// per-project activity and progress-record lists.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"siteline/internal/domain"
	"siteline/internal/metrics"
	"siteline/internal/store"
)

const (
	kindActivities = "activities"
	kindRecords    = "records"
)

// Store is a store.Store whose List* reads go through Redis. Status
// write-backs invalidate the project's keys. Redis failures fall back to the
// wrapped store.
type Store struct {
	store.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(next store.Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Store: next, rdb: rdb, ttl: ttl, logger: logger}
}

// NewClient builds a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Key returns the cache key for a project list.
func Key(kind, projectCode string) string {
	return fmt.Sprintf("siteline:%s:%s", kind, projectCode)
}

func (s *Store) ListActivities(ctx context.Context, projectCode string) ([]domain.Activity, error) {
	return readThrough(ctx, s, kindActivities, projectCode, s.Store.ListActivities)
}

func (s *Store) ListProgressRecords(ctx context.Context, projectCode string) ([]domain.ProgressRecord, error) {
	return readThrough(ctx, s, kindRecords, projectCode, s.Store.ListProgressRecords)
}

// UpdateProjectStatus writes through and drops the project's cached lists.
func (s *Store) UpdateProjectStatus(ctx context.Context, u domain.StatusUpdate) error {
	if err := s.Store.UpdateProjectStatus(ctx, u); err != nil {
		return err
	}
	code := u.ProjectCode
	if code == "" {
		p, err := s.Store.GetProject(ctx, u.ProjectID)
		if err != nil {
			s.logger.Warn("Cache invalidation skipped", zap.String("project_id", u.ProjectID), zap.Error(err))
			return nil
		}
		code = p.Code
	}
	s.Invalidate(ctx, code)
	return nil
}

// Invalidate removes the cached lists of a project.
func (s *Store) Invalidate(ctx context.Context, projectCode string) {
	if err := s.rdb.Del(ctx, Key(kindActivities, projectCode), Key(kindRecords, projectCode)).Err(); err != nil {
		s.logger.Warn("Cache invalidation failed", zap.String("project_code", projectCode), zap.Error(err))
	}
}

func readThrough[T any](ctx context.Context, s *Store, kind, projectCode string, load func(context.Context, string) ([]T, error)) ([]T, error) {
	key := Key(kind, projectCode)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var items []T
		if err := json.Unmarshal(raw, &items); err == nil {
			metrics.RecordCache(kind, true)
			return items, nil
		}
		s.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.RecordCache(kind, false)

	items, err := load(ctx, projectCode)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(items)
	if err != nil {
		s.logger.Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
		return items, nil
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return items, nil
}

// Seeder forwards inserts and drops the affected project's cached lists.
type Seeder struct {
	store.Seeder
	Cache *Store
}

func (s Seeder) InsertActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	out, err := s.Seeder.InsertActivity(ctx, a)
	if err == nil {
		s.Cache.Invalidate(ctx, out.ProjectCode)
	}
	return out, err
}

func (s Seeder) InsertProgressRecord(ctx context.Context, r domain.ProgressRecord) (domain.ProgressRecord, error) {
	out, err := s.Seeder.InsertProgressRecord(ctx, r)
	if err == nil {
		s.Cache.Invalidate(ctx, out.ProjectCode)
	}
	return out, err
}
