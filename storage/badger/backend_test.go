package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsearch/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false, WithSyncWrites(true))
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := OpenBackend(file, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.WithTx(context.Background(), func(tx *badger.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestWithTx(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	key := []byte("k")

	t.Run("commits on success", func(t *testing.T) {
		err := backend.WithTx(ctx, func(tx *badger.Txn) error {
			return tx.Set(key, []byte("v1"))
		}, true)
		require.NoError(t, err)

		err = backend.WithTx(ctx, func(tx *badger.Txn) error {
			item, err := tx.Get(key)
			require.NoError(t, err)
			val, err := item.ValueCopy(nil)
			require.NoError(t, err)
			assert.Equal(t, "v1", string(val))
			return nil
		}, false)
		require.NoError(t, err)
	})

	t.Run("discards on error", func(t *testing.T) {
		sentinel := assert.AnError
		err := backend.WithTx(ctx, func(tx *badger.Txn) error {
			require.NoError(t, tx.Set([]byte("other"), []byte("v")))
			return sentinel
		}, true)
		assert.ErrorIs(t, err, sentinel)

		err = backend.WithTx(ctx, func(tx *badger.Txn) error {
			_, err := tx.Get([]byte("other"))
			assert.ErrorIs(t, err, badger.ErrKeyNotFound)
			return nil
		}, false)
		require.NoError(t, err)
	})

	t.Run("refuses cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		err := backend.WithTx(cancelled, func(tx *badger.Txn) error {
			called = true
			return nil
		}, true)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestMakeCollectionPrefix_NoCrossCollectionOverlap(t *testing.T) {
	// "site" must not be a prefix of "site-b" once lengths are encoded.
	a := makeCollectionPrefix("site")
	b := makeChunkKey("site-b", "doc", 0)

	assert.NotEqual(t, a, b[:len(a)])
}

func TestMakeChunkKey_OrdersByIndex(t *testing.T) {
	k1 := makeChunkKey("c", "d", 1)
	k2 := makeChunkKey("c", "d", 2)
	k10 := makeChunkKey("c", "d", 10)

	assert.Less(t, string(k1), string(k2))
	assert.Less(t, string(k2), string(k10))
}
