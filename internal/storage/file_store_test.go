package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistIsIdempotent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewFileStore(root, "https://cdn.example.com/artifacts/", testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := s.Persist(ctx, pngData(t), "req-1", "upscaled/frontside_white_1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/artifacts/req-1/upscaled/frontside_white_1.png", first)

	replacement := append(pngData(t), 0x00)
	second, err := s.Persist(ctx, replacement, "req-1", "upscaled/frontside_white_1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := os.ReadFile(filepath.Join(root, "req-1", "upscaled", "frontside_white_1.png"))
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	entries, err := os.ReadDir(filepath.Join(root, "req-1", "upscaled"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_FileURLs(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir(), "", testLogger())
	require.NoError(t, err)

	u, err := s.Persist(context.Background(), []byte("PK\x03\x04"), "req-2", "report.xlsx")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file:///"), u)
	assert.True(t, strings.HasSuffix(u, "/req-2/report.xlsx"), u)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir(), "", testLogger())
	require.NoError(t, err)

	_, err = s.Persist(context.Background(), pngData(t), "req", "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileStore_CancelledContext(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir(), "", testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Persist(ctx, pngData(t), "req", "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore_Handler(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir(), "", testLogger())
	require.NoError(t, err)
	data := pngData(t)
	_, err = s.Persist(context.Background(), data, "req-3", "frontside_white_1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/req-3/frontside_white_1.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}
