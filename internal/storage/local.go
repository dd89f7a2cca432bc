package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements ObjectStore over a directory on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a filesystem-backed object store rooted at basePath.
// The directory is created if it does not exist.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, errors.New("base path cannot be empty")
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStore{basePath: basePath}, nil
}

// Ensure LocalStore implements ObjectStore
var _ ObjectStore = (*LocalStore)(nil)

// Put writes the object to a temporary file and renames it into place so a
// crashed write never leaves a truncated object at the final key.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move object into place: %w", err)
	}

	return nil
}

// Get returns a reader over the object at key.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	return f, nil
}

// Delete removes the object at key. Missing objects are ignored.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// Exists reports whether an object is present at key.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	return true, nil
}

// resolve maps an object key onto the base directory, rejecting keys that
// would escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("object key cannot be empty")
	}

	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object key: %s", key)
	}

	return filepath.Join(s.basePath, cleaned), nil
}
