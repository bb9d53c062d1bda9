package chat

import (
	"context"
	"sync"
)

// ThreadStore remembers the provider-side thread of each session so
// later turns continue the same provider conversation.
type ThreadStore interface {
	// Get returns "" when the session has no thread yet.
	Get(ctx context.Context, sessionID string) (string, error)
	Put(ctx context.Context, sessionID, threadID string) error
}

// MemoryThreadStore is the single-process ThreadStore used when Redis is
// not configured.
type MemoryThreadStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{m: make(map[string]string)}
}

func (s *MemoryThreadStore) Get(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[sessionID], nil
}

func (s *MemoryThreadStore) Put(_ context.Context, sessionID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = threadID
	return nil
}
