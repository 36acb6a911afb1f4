// Package memory keeps archived raw events in process memory, standing in
// for the GCS archive in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

type object struct {
	contentType string
	data        []byte
}

// BlobStore implements whale.BlobStore with an in-memory object map and
// returns memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	order []string
	data  map[string]object
	err   error
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string]object)}
}

// FailWith makes every subsequent PutObject return err. Pass nil to restore
// normal behavior.
func (s *BlobStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PutObject stores the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if _, exists := s.data[path]; !exists {
		s.order = append(s.order, path)
	}
	s.data[path] = object{contentType: contentType, data: append([]byte(nil), data...)}
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored content for path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Paths returns the stored object paths in first-write order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
