package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a miniredis-backed store for testing.
func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()

	store, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	state := State{
		UserID:       7,
		Role:         "member",
		LastActivity: time.Now().Unix(),
		CurrentPage:  "/databank/",
		Flashes:      []Flash{{Level: FlashInfo, Message: "hello"}},
	}

	require.NoError(t, store.Save(ctx, "sid-1", state, time.Minute))

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestRedisStore_GetUnknown(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	store, mr := setupRedisStore(t)

	require.NoError(t, mr.Set("session:sid-bad", "{not json"))

	// Corrupt state must surface as absent, never as an error that could be
	// mistaken for an authenticated session.
	_, err := store.Get(context.Background(), "sid-bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "sid-ttl", State{UserID: 1}, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "sid-ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "sid-del", State{UserID: 1}, time.Minute))
	require.NoError(t, store.Delete(ctx, "sid-del"))

	_, err := store.Get(ctx, "sid-del")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ContextCancelled(t *testing.T) {
	store, _ := setupRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "sid")
	assert.Error(t, err)

	err = store.Save(ctx, "sid", State{}, time.Minute)
	assert.Error(t, err)
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Address = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := NewRedisStore(cfg)
	assert.Error(t, err)
}
