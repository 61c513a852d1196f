package matching

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisReservations(t *testing.T) (*RedisReservationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisReservationStore(client, ""), mr
}

func TestRedisReservationExclusive(t *testing.T) {
	store, _ := newRedisReservations(t)
	ctx := context.Background()
	mechanic := uuid.New()

	ok, err := store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second reservation on the same mechanic must lose")

	require.NoError(t, store.Release(ctx, mechanic))
	ok, err = store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "released mechanic can be reserved again")
}

func TestRedisReservationExpires(t *testing.T) {
	store, mr := newRedisReservations(t)
	ctx := context.Background()
	mechanic := uuid.New()

	ok, err := store.TryReserve(ctx, mechanic, uuid.New(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = store.TryReserve(ctx, mechanic, uuid.New(), time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired reservation no longer blocks")
}

func TestMemoryReservationExclusive(t *testing.T) {
	store := NewMemoryReservationStore()
	ctx := context.Background()
	mechanic := uuid.New()

	ok, err := store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, mechanic))
	ok, err = store.TryReserve(ctx, mechanic, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
