// Package storagetest holds the conformance suite every storage.Repository
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/storage"
)

// Run exercises repo against the storage.Repository contract. The repository
// must be empty for the buckets used here.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "k1", []byte("v1")))
		got, err := repo.Get(ctx, "b1", "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "copy", []byte("abc")))
		got, err := repo.Get(ctx, "b1", "copy")
		require.NoError(t, err)
		got[0] = 'X'
		again, err := repo.Get(ctx, "b1", "copy")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "b1", "missing")
		assert.True(t, storage.IsNotFound(err), "got %v", err)

		_, err = repo.Get(ctx, "no-such-bucket", "k1")
		assert.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "ow", []byte("first")))
		require.NoError(t, repo.Put(ctx, "b1", "ow", []byte("second")))
		got, err := repo.Get(ctx, "b1", "ow")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "del", []byte("x")))
		require.NoError(t, repo.Delete(ctx, "b1", "del"))
		_, err := repo.Get(ctx, "b1", "del")
		assert.True(t, storage.IsNotFound(err))

		err = repo.Delete(ctx, "b1", "del")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "list", "a", []byte("1")))
		require.NoError(t, repo.Put(ctx, "list", "b", []byte("2")))
		require.NoError(t, repo.Put(ctx, "other", "c", []byte("3")))
		keys, err := repo.List(ctx, "list")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, keys)

		keys, err = repo.List(ctx, "empty-bucket")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
