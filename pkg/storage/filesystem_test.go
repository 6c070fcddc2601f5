package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	handle, size, err := store.Put(ctx, bytes.NewReader([]byte("%PDF-1.7 body")))
	require.NoError(t, err)
	assert.EqualValues(t, 13, size)
	assert.True(t, store.Exists(handle))

	rc, err := store.Get(ctx, handle)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF-1.7 body", string(data))

	require.NoError(t, store.Delete(ctx, handle))
	assert.False(t, store.Exists(handle))
	_, err = store.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	require.NoError(t, store.Delete(ctx, handle))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestLocalStoragePutHonoursCancellation(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = store.Put(ctx, bytes.NewReader([]byte("data")))
	assert.Error(t, err)
}
