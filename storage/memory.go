package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// MemoryStore keeps objects in process. Used when no bucket is configured
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	base    *url.URL
}

func NewMemoryStore(publicBaseURL string) *MemoryStore {
	s := &MemoryStore{objects: make(map[string][]byte)}
	if u, err := url.Parse(publicBaseURL); err == nil && publicBaseURL != "" {
		s.base = u
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, key string, contentType string, body io.Reader) (*PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	sum := md5.Sum(data)

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	return &PutResult{Key: key, Location: s.PublicURL(key), ETag: hex.EncodeToString(sum[:])}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return joinPublicURL(s.base, key)
}

// Get returns a copy of the stored object.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
