package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-memory ObjectStore used in tests and as a stand-in
// backend. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, when set, makes every Put return the given error. Tests use
	// it to simulate an unreachable endpoint.
	FailPut error
	// FailGet behaves like FailPut for Get.
	FailGet error
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

// Ensure MemoryStore implements ObjectStore
var _ ObjectStore = (*MemoryStore)(nil)

// Put stores the object bytes at key.
func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s.FailPut != nil {
		return s.FailPut
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data

	return nil
}

// Get returns a reader over the object at key.
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.FailGet != nil {
		return nil, s.FailGet
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object at key. Missing objects are ignored.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)

	return nil
}

// Exists reports whether an object is present at key.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}
