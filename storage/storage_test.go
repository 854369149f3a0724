package storage_test

import (
	"context"
	"testing"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns one fresh instance of every in-process KV backend
// (filesystem and mock; badger and S3 need external setup and are not
// covered by these tests). Every backend must satisfy the same contract.
func backends(t *testing.T) map[string]storage.KV {
	t.Helper()
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]storage.KV{
		"filesystem": fs,
		"mock":       storage.NewMock(),
	}
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()

			_, err := kv.Get(ctx, "missing")
			require.Error(t, err)
			assert.True(t, mgerr.Is(err, mgerr.NotFound))

			ok, err := kv.Exists(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Put(ctx, "a/b/c", []byte("hello")))
			ok, err = kv.Exists(ctx, "a/b/c")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := kv.Get(ctx, "a/b/c")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)

			require.NoError(t, kv.Put(ctx, "a/b/d", []byte("world")))
			require.NoError(t, kv.Put(ctx, "a/other", []byte("x")))

			keys, err := kv.List(ctx, "a/b/")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/b/c", "a/b/d"}, keys)

			require.NoError(t, kv.Delete(ctx, "a/b/c"))
			_, err = kv.Get(ctx, "a/b/c")
			require.Error(t, err)

			// deleting a missing key is not an error
			require.NoError(t, kv.Delete(ctx, "a/b/c"))
		})
	}
}

func TestKVPutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()
			require.NoError(t, kv.Put(ctx, "k", []byte("v1")))
			require.NoError(t, kv.Put(ctx, "k", []byte("v2")))
			got, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)
		})
	}
}

func TestFilesystemRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.Get(ctx, "../escape")
	require.Error(t, err)
	assert.True(t, mgerr.Is(err, mgerr.InvalidName))

	err = fs.Put(ctx, "../escape", []byte("x"))
	require.Error(t, err)
	assert.True(t, mgerr.Is(err, mgerr.InvalidName))
}

func TestMockGetCopiesBytes(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMock()
	defer m.Close()

	original := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", original))
	original[0] = 'z' // mutating the caller's slice must not affect stored data

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
