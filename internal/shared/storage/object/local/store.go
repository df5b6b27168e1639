package local

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"meal-backend/internal/shared/storage/object"
)

// Store keeps objects on the local filesystem. It is meant for development.
type Store struct {
	baseDir string
	baseURL string
}

// New creates a store rooted at baseDir. baseURL, when set, prefixes object URLs.
func New(baseDir, baseURL string) *Store {
	return &Store{baseDir: baseDir, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Save writes r to key, creating parent directories.
func (s *Store) Save(ctx context.Context, key, contentType string, r io.Reader) (object.Object, error) {
	if err := ctx.Err(); err != nil {
		return object.Object{}, err
	}
	clean, err := object.CleanKey(key)
	if err != nil {
		return object.Object{}, err
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return object.Object{}, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return object.Object{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return object.Object{}, fmt.Errorf("write body: %w", err)
	}
	return object.Object{Key: clean, URL: s.URL(clean), ContentType: contentType, Size: written}, nil
}

// Open opens a stored object. The content type is inferred from the extension.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	clean, err := object.CleanKey(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(s.baseDir, filepath.FromSlash(clean)))
	if err != nil {
		return nil, "", err
	}
	contentType := mime.TypeByExtension(path.Ext(clean))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

// URL returns baseURL/key, or "" without a base URL.
func (s *Store) URL(key string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

var _ object.ObjectStore = (*Store)(nil)
