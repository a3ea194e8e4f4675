package credstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-commerce/console/internal/shared"
)

func newRedisStore(t *testing.T, prefix string) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, prefix, time.Hour, nil), mr
}

func TestStoresRoundTrip(t *testing.T) {
	redisStore, _ := newRedisStore(t, "sid-1")
	stores := map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, ok := s.Get(ctx, KeyAccessToken)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyAccessToken, "tok"))
			v, ok := s.Get(ctx, KeyAccessToken)
			require.True(t, ok)
			assert.Equal(t, "tok", v)

			require.NoError(t, s.Remove(ctx, KeyAccessToken))
			require.NoError(t, s.Remove(ctx, KeyAccessToken))
			_, ok = s.Get(ctx, KeyAccessToken)
			assert.False(t, ok)
		})
	}
}

func TestRedisNamespacesAndExpires(t *testing.T) {
	s, mr := newRedisStore(t, "sid-1")
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyUser, `{"id":1}`))

	assert.True(t, mr.Exists("console:sid-1:user"))
	assert.Equal(t, time.Hour, mr.TTL("console:sid-1:user"))

	other := NewRedis(s.client, "sid-2", time.Hour, nil)
	_, ok := other.Get(ctx, KeyUser)
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)
	_, ok = s.Get(ctx, KeyUser)
	assert.False(t, ok)
}

func TestRedisFailsSoftWhenServerGone(t *testing.T) {
	s, mr := newRedisStore(t, "sid-1")
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyAccessToken, "tok"))
	mr.Close()

	_, ok := s.Get(ctx, KeyAccessToken)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Set(ctx, KeyAccessToken, "tok"), shared.ErrStorageUnavailable)
	assert.ErrorIs(t, s.Remove(ctx, KeyAccessToken), shared.ErrStorageUnavailable)
}

func TestNoopNeverPersists(t *testing.T) {
	ctx := context.Background()
	var s Store = Noop{}
	assert.ErrorIs(t, s.Set(ctx, KeyAccessToken, "tok"), shared.ErrStorageUnavailable)
	_, ok := s.Get(ctx, KeyAccessToken)
	assert.False(t, ok)
	assert.ErrorIs(t, Clear(ctx, s), shared.ErrStorageUnavailable)
}

func TestClearRemovesEveryKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range Keys() {
		require.NoError(t, s.Set(ctx, k, "v"))
	}
	require.NoError(t, Clear(ctx, s))
	for _, k := range Keys() {
		_, ok := s.Get(ctx, k)
		assert.False(t, ok, k)
	}
}
