package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/pkg/logger"
)

const snapshotCachePrefix = "ps"

// Snapshot is the cached read-model view of a process: derived state only,
// no events. Replay remains the source of truth; the cache is refreshed on
// every Save and expires on its own.
type Snapshot struct {
	Version    int            `json:"version"`
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     domain.Status  `json:"status"`
	Attributes map[string]any `json:"attributes"`
	CachedAt   time.Time      `json:"cachedAt"`
}

// SnapshotCache caches process snapshots in Redis for fast status reads.
// All operations are best-effort: a cache failure is logged and the caller
// falls through to the repository.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewSnapshotCache creates a snapshot cache with the given TTL.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl, now: time.Now}
}

// Put stores the current derived state of a process.
func (c *SnapshotCache) Put(ctx context.Context, p *domain.Process) {
	snap := Snapshot{
		Version:    1,
		ID:         p.ID,
		Kind:       p.Kind,
		Status:     p.Status,
		Attributes: p.Attributes,
		CachedAt:   c.now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Warn("snapshot marshal failed", zap.String("process_id", p.ID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.key(p.ID), data, c.ttl).Err(); err != nil {
		logger.Warn("snapshot cache write failed", zap.String("process_id", p.ID), zap.Error(err))
	}
}

// Get returns the cached snapshot, if any.
func (c *SnapshotCache) Get(ctx context.Context, id string) (*Snapshot, bool) {
	data, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("snapshot cache read failed", zap.String("process_id", id), zap.Error(err))
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("snapshot decode failed", zap.String("process_id", id), zap.Error(err))
		return nil, false
	}
	return &snap, true
}

// Invalidate drops the cached snapshot for a process.
func (c *SnapshotCache) Invalidate(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		logger.Warn("snapshot cache invalidate failed", zap.String("process_id", id), zap.Error(err))
	}
}

func (c *SnapshotCache) key(id string) string {
	return snapshotCachePrefix + ":" + id
}
