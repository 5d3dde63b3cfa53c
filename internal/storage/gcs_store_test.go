package storage

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGCS accepts multipart uploads the way the JSON API does
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/upload/storage/v1/b/") {
		http.Error(w, "unexpected request", http.StatusNotFound)
		return
	}
	bucket := strings.Split(strings.TrimPrefix(r.URL.Path[strings.Index(r.URL.Path, "/b/"):], "/b/"), "/")[0]

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var meta struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	part, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := json.NewDecoder(part).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.objects[meta.Name] = data
	f.types[meta.Name] = meta.ContentType
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"bucket":      bucket,
		"name":        meta.Name,
		"contentType": meta.ContentType,
		"size":        len(data),
	})
}

func TestGCSStore_Persist(t *testing.T) {
	fake := &fakeGCS{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	t.Setenv("STORAGE_EMULATOR_HOST", strings.TrimPrefix(srv.URL, "http://"))

	ctx := context.Background()
	s, err := NewGCSStore(ctx, "lookbook-test", "", testLogger())
	require.NoError(t, err)
	defer s.Close()

	data := pngData(t)
	u, err := s.Persist(ctx, data, "req-1", "original/frontside_white_1")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/lookbook-test/req-1/original/frontside_white_1.png", u)

	again, err := s.Persist(ctx, data, "req-1", "original/frontside_white_1")
	require.NoError(t, err)
	assert.Equal(t, u, again)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, data, fake.objects["req-1/original/frontside_white_1.png"])
	assert.Equal(t, "image/png", fake.types["req-1/original/frontside_white_1.png"])
	assert.Len(t, fake.objects, 1)
}

func TestNewGCSStore_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewGCSStore(context.Background(), "", "", testLogger())
	assert.Error(t, err)
}
