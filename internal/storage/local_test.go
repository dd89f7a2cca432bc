package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestLocalStore(t)
	key := "general/ab/cd/abcd1234.jpg"

	require.NoError(t, s.Put(ctx, key, bytes.NewReader([]byte("image-bytes")), 11, "image/jpeg"))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	body, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, []byte("image-bytes"), data)

	require.NoError(t, s.Delete(ctx, key))

	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStoreGetMissing(t *testing.T) {
	t.Parallel()

	s := newTestLocalStore(t)

	_, err := s.Get(context.Background(), "general/aa/bb/missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStoreDeleteMissing(t *testing.T) {
	t.Parallel()

	s := newTestLocalStore(t)

	assert.NoError(t, s.Delete(context.Background(), "general/aa/bb/missing.jpg"))
}

func TestLocalStorePutOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestLocalStore(t)
	key := "general/ab/cd/abcd1234.jpg"

	require.NoError(t, s.Put(ctx, key, bytes.NewReader([]byte("first")), 5, "image/jpeg"))
	require.NoError(t, s.Put(ctx, key, bytes.NewReader([]byte("second")), 6, "image/jpeg"))

	body, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, []byte("second"), data)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStore(filepath.Join(base, "objects"))
	require.NoError(t, err)

	for _, key := range []string{
		"../outside.jpg",
		"general/../../outside.jpg",
		"/etc/passwd",
		"",
	} {
		err := s.Put(ctx, key, bytes.NewReader([]byte("x")), 1, "image/jpeg")
		assert.Error(t, err, "key %q", key)
	}

	// Nothing leaked outside the object root.
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "objects", entries[0].Name())
}

func TestNewLocalStoreRequiresBasePath(t *testing.T) {
	t.Parallel()

	_, err := NewLocalStore("")
	assert.Error(t, err)
}
