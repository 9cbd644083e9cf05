package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"drover.io/drover/internal/domain"
)

func newTestCache(t *testing.T) *SnapshotCache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSnapshotCache(rdb, 5*time.Minute)
}

func TestSnapshotCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	p := domain.NewProcess("order-1", "order", time.Now())
	p.Status = "paid"
	p.Attributes["customer_name"] = "Ada"
	c.Put(ctx, p)

	snap, ok := c.Get(ctx, "order-1")
	require.True(t, ok)
	require.Equal(t, domain.Status("paid"), snap.Status)
	require.Equal(t, "Ada", snap.Attributes["customer_name"])
	require.Equal(t, 1, snap.Version)
}

func TestSnapshotCache_Miss(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get(context.Background(), "nope")
	require.False(t, ok)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	p := domain.NewProcess("order-1", "order", time.Now())
	c.Put(ctx, p)
	c.Invalidate(ctx, "order-1")

	_, ok := c.Get(ctx, "order-1")
	require.False(t, ok)
}
