package persist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisSnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSnapshotStoreWithClient(client, "memflow-test", ttl, zap.NewNop()), mr
}

func TestRedisSnapshotStore_SaveLoad(t *testing.T) {
	t.Parallel()
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()

	snap := Snapshot{
		ID:        "s1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Memories: []ExportedRecord{{
			ID: "m1", Content: "hello", Type: "fact",
			CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
			UpdatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
			LastAccessedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}},
	}
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	loaded, err := store.LoadSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	require.Len(t, loaded.Memories, 1)
	assert.Equal(t, "hello", loaded.Memories[0].Content)

	_, err = store.LoadSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSnapshotStore_Latest(t *testing.T) {
	t.Parallel()
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()

	_, err := store.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{ID: "s1"}))
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{ID: "s2"}))

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", latest.ID)
}

func TestRedisSnapshotStore_Delete(t *testing.T) {
	t.Parallel()
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{ID: "s1"}))
	require.NoError(t, store.DeleteSnapshot(ctx, "s1"))
	assert.ErrorIs(t, store.DeleteSnapshot(ctx, "s1"), ErrNotFound)

	_, err := store.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound, "latest pointer is cleared with the snapshot")
}

func TestRedisSnapshotStore_TTL(t *testing.T) {
	t.Parallel()
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{ID: "s1"}))

	mr.FastForward(2 * time.Minute)

	_, err := store.LoadSnapshot(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound, "snapshots expire after the configured TTL")
}
