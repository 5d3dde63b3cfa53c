package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes artifacts below a root directory
type FileStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFileStore creates root if needed. URLs are baseURL joined with the
// object name, or file:// URLs when baseURL is empty.
func NewFileStore(root, baseURL string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{
		root:    abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "file_store"),
	}, nil
}

// Persist writes data atomically, replacing any previous object
func (s *FileStore) Persist(ctx context.Context, data []byte, requestID, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, _, err := ObjectName(requestID, key, data)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	s.logger.DebugContext(ctx, "artifact stored", "object", name, "bytes", len(data))
	return s.url(name), nil
}

func (s *FileStore) url(name string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + name
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, name))}).String()
}

// Handler serves stored artifacts by object name
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}
