package main

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopportal/accessgw/internal/userstore"
)

func newTestStore(t *testing.T) *userstore.SQLiteStore {
	t.Helper()

	store, err := userstore.NewSQLiteStore(filepath.Join(t.TempDir(), "users.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestRun_AccountLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, run(store, "add", []string{
		"-email", "chair@coop.example", "-name", "Alex Chair", "-role", "board", "-password", "s3cret",
	}))

	u, err := store.Authenticate(ctx, "chair@coop.example", "s3cret")
	require.NoError(t, err)
	id := strconv.FormatInt(u.ID, 10)

	require.NoError(t, run(store, "deactivate", []string{"-id", id}))
	u, err = store.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	require.NoError(t, run(store, "activate", []string{"-id", id}))
	u, err = store.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, u.IsActive)

	require.NoError(t, run(store, "require-2fa", []string{"-id", id}))
	u, err = store.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, u.SecondFactor)

	require.NoError(t, run(store, "require-2fa", []string{"-id", id, "-off"}))
	u, err = store.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, u.SecondFactor)

	require.NoError(t, run(store, "remove", []string{"-id", id}))
	_, err = store.ByID(ctx, u.ID)
	assert.ErrorIs(t, err, userstore.ErrNotFound)
}

func TestRun_RejectsBadInput(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, run(store, "add", []string{"-email", "x@y.z"}), "missing password")
	assert.Error(t, run(store, "activate", nil), "missing id")
	assert.Error(t, run(store, "bogus", nil), "unknown command")
}
