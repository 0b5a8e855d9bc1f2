package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore implements Gateway on the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available. Pools map to subdirectories under the base path; minted URLs
// point at the static file route and ignore the ttl.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) fullPath(pool Pool, key string) (string, error) {
	clean, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, string(pool), filepath.FromSlash(clean)), nil
}

// Upload persists the provided bytes at the given pool-relative key.
func (s *FileStore) Upload(ctx context.Context, pool Pool, path string, data []byte, contentType, cacheControl string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(pool, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

// Download reads the stored bytes back.
func (s *FileStore) Download(ctx context.Context, pool Pool, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(pool, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes the file. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, pool Pool, path string) error {
	full, err := s.fullPath(pool, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove file: %w", err)
	}
	return nil
}

// Copy duplicates a file across pools.
func (s *FileStore) Copy(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error {
	src, err := s.fullPath(srcPool, srcPath)
	if err != nil {
		return err
	}
	dst, err := s.fullPath(dstPool, dstPath)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("storage: create destination: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("storage: copy: %w", err)
	}
	return nil
}

// Move copies the file then deletes the source.
func (s *FileStore) Move(ctx context.Context, srcPool Pool, srcPath string, dstPool Pool, dstPath string) error {
	if err := s.Copy(ctx, srcPool, srcPath, dstPool, dstPath); err != nil {
		return err
	}
	return s.Delete(ctx, srcPool, srcPath)
}

// MintReadURL returns a stable URL under the static file route.
func (s *FileStore) MintReadURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error) {
	clean, err := SanitizeKey(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, url.PathEscape(string(pool)), clean), nil
}

// MintWriteURL is not supported by the filesystem store.
func (s *FileStore) MintWriteURL(ctx context.Context, pool Pool, path string, ttl time.Duration) (string, error) {
	return "", errors.New("storage: write urls not supported by file store")
}

var _ Gateway = (*FileStore)(nil)
