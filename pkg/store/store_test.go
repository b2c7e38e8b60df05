package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenCreatesEmptyStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), store.DefaultFileName)

	s := openStore(t, path)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, path, s.Path())

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), store.DefaultFileName))

	empty, err := s.Empty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	empty, err = s.Empty(ctx)
	require.NoError(t, err)
	assert.False(t, empty, "buffered write")

	require.NoError(t, s.Sync(ctx))

	empty, err = s.Empty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, s.EraseAll(ctx))

	empty, err = s.Empty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, s.Close())

	_, err = s.Empty(ctx)
	require.ErrorIs(t, err, store.ErrClosed)
}

func TestPutVisibleBeforeSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), store.DefaultFileName))

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), store.DefaultFileName)

	s, err := store.Open(ctx, path)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "b", []byte("2")))
	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	require.NoError(t, s.Put(ctx, "a", []byte("3")))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Close())

	reopened := openStore(t, path)

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	value, ok, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), value, "last write wins")
}

func TestCloseSyncsPendingWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), store.DefaultFileName)

	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	_, _, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrClosed)

	reopened := openStore(t, path)

	_, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIterateInKeyOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), store.DefaultFileName))

	require.NoError(t, s.Put(ctx, "2", []byte("two")))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Put(ctx, "1", []byte("one")))

	var seen []string

	require.NoError(t, s.Iterate(ctx, func(key string, value []byte) error {
		seen = append(seen, key+"="+string(value))

		return nil
	}))

	assert.Equal(t, []string{"1=one", "2=two"}, seen)

	stop := errors.New("stop")

	err := s.Iterate(ctx, func(string, []byte) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestCorruptFileIsReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), store.DefaultFileName)

	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, just some bytes......"), 0o600))

	s := openStore(t, path)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Sync(ctx))
}

func TestEraseAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), store.DefaultFileName))

	require.NoError(t, s.Put(ctx, "synced", []byte("1")))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Put(ctx, "pending", []byte("2")))

	require.NoError(t, s.EraseAll(ctx))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Put(ctx, "after", []byte("3")))
	require.NoError(t, s.Sync(ctx))

	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEraseMissingStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), store.DefaultFileName)

	require.NoError(t, store.Erase(path))

	s := openStore(t, path)

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
