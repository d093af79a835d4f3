package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"UsdnLedger/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const latestSnapshotKey = "usdn:snapshot:latest"

// CachedSnapshotStore wraps a primary store with a Redis read-through cache
// of the latest checkpoint. Writes go to the primary first and then refresh
// the cache; cache failures never fail the caller.
type CachedSnapshotStore struct {
	primary CheckpointStore
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

var _ CheckpointStore = (*CachedSnapshotStore)(nil)

func NewCachedSnapshotStore(primary CheckpointStore, rdb redis.UniversalClient, ttl time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *CachedSnapshotStore {
	return &CachedSnapshotStore{primary: primary, rdb: rdb, ttl: ttl, metrics: metrics, logger: logger}
}

func (s *CachedSnapshotStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := s.primary.Save(ctx, cp); err != nil {
		return err
	}
	s.cache(ctx, cp)
	return nil
}

func (s *CachedSnapshotStore) LoadLatest(ctx context.Context) (*Checkpoint, error) {
	data, err := s.rdb.Get(ctx, latestSnapshotKey).Bytes()
	if err == nil {
		var cp Checkpoint
		if json.Unmarshal(data, &cp) == nil && cp.Engine != nil {
			s.count("hit")
			return &cp, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("snapshot cache read failed")
	}
	s.count("miss")

	cp, err := s.primary.LoadLatest(ctx)
	if err != nil || cp == nil {
		return cp, err
	}
	s.cache(ctx, cp)
	return cp, nil
}

// Invalidate drops the cached checkpoint.
func (s *CachedSnapshotStore) Invalidate(ctx context.Context) error {
	return s.rdb.Del(ctx, latestSnapshotKey).Err()
}

func (s *CachedSnapshotStore) cache(ctx context.Context, cp *Checkpoint) {
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, latestSnapshotKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot cache write failed")
	}
}

func (s *CachedSnapshotStore) count(result string) {
	if s.metrics != nil {
		s.metrics.CacheHits.WithLabelValues(result).Inc()
	}
}
