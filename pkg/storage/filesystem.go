package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when a handle does not resolve to a stored blob.
var ErrBlobNotFound = errors.New("blob not found")

// LocalStorage persists blobs on disk under a base directory. Handles are
// opaque relative paths generated on Put.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./storage"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Put streams r into a new blob and returns its handle and byte count. The blob
// only becomes visible once fully written.
func (s *LocalStorage) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	id := uuid.NewString()
	handle := filepath.ToSlash(filepath.Join(id[:2], id))
	path := s.resolve(handle)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("prepare blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return "", 0, fmt.Errorf("write blob stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("flush blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return handle, written, nil
}

// Get returns a read-only stream for the stored blob.
func (s *LocalStorage) Get(_ context.Context, handle string) (io.ReadCloser, error) {
	path, err := s.safeResolve(handle)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(_ context.Context, handle string) error {
	path, err := s.safeResolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob is stored under handle.
func (s *LocalStorage) Exists(handle string) bool {
	path, err := s.safeResolve(handle)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Path exposes the underlying path (useful for debugging).
func (s *LocalStorage) Path(handle string) string {
	return s.resolve(handle)
}

func (s *LocalStorage) safeResolve(handle string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(handle))
	if handle == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrBlobNotFound
	}
	return s.resolve(clean), nil
}

func (s *LocalStorage) resolve(handle string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(handle))
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
