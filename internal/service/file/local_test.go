package file

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/config"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := "raw_vault/u1/doc/report.txt"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("hello"), 5, "text/plain"))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := ReadAll(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, PutBytes(ctx, s, key, []byte("again"), "text/plain"))
	data, err = ReadAll(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_KeyStaysInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	require.NoError(t, PutBytes(ctx, s, "../../escape.txt", []byte("x"), ""))
	ok, err := s.Exists(ctx, "escape.txt")
	require.NoError(t, err)
	assert.True(t, ok, "parent segments are clamped to the root")

	_, err = s.Get(ctx, "")
	assert.Error(t, err)
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := New(context.Background(), &config.StorageConfig{Type: "cos"})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.StorageConfig{Type: "minio"})
	assert.Error(t, err)
}
