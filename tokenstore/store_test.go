package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("abc")

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, s.Save(ctx, "def"))
	got, _ = s.Read(ctx)
	assert.Equal(t, "def", got)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "token")
	s := NewFileStore(path, nil)

	got, err := s.Read(ctx)
	require.NoError(t, err, "missing file reads as absent")
	assert.Empty(t, got)

	require.NoError(t, s.Save(ctx, "abc"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx), "clearing twice is fine")
	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_SaveEmptyClears(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "token"), nil)
	require.NoError(t, s.Save(ctx, "abc"))
	require.NoError(t, s.Save(ctx, ""))
	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_Sealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")
	key := newKey(t)
	s := NewFileStore(path, key)

	require.NoError(t, s.Save(ctx, "secret-token"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), sealedPrefix))
	assert.NotContains(t, string(raw), "secret-token")

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)

	other := NewFileStore(path, newKey(t))
	_, err = other.Read(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	keyless := NewFileStore(path, nil)
	_, err = keyless.Read(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	// parent of the token path is a regular file
	s := NewFileStore(filepath.Join(blocker, "token"), nil)
	err := s.Save(ctx, "abc")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	k, err := ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k[:])

	k, err = ParseKey(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k[:])

	k, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	_, err = ParseKey(base64.StdEncoding.EncodeToString(raw[:16]))
	assert.Error(t, err)
}

func newKey(t *testing.T) *[32]byte {
	t.Helper()
	var k [32]byte
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return &k
}
