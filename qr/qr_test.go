package qr

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestCreate(t *testing.T) {
	opts, err := Options("")
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "login.png")

	require.NoError(t, Create(context.Background(), "http://localhost:8000/api/v1/auth/google/login", p, opts...))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestCreate_RejectsNonHTTP(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.png")
	assert.Error(t, Create(context.Background(), "javascript:alert(1)", p))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestOptions_BadColor(t *testing.T) {
	_, err := Options("not-a-color")
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler("https://example.com/auth/google/login", "", nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login/qr", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), pngMagic))
}
