// Package idempotency stores submission keys so a retried Submit finds the
// request created by the first attempt.
package idempotency

import (
	"context"
	"sync"
	"time"

	id "procflow/pkg/domain"
)

type reservation struct {
	requestID id.RequestID
	expiresAt time.Time
}

// InMemoryStore is a process-local idempotency store.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]reservation
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]reservation), now: time.Now}
}

func (s *InMemoryStore) Reserve(_ context.Context, key string, requestID id.RequestID, ttl time.Duration) (id.RequestID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if r, ok := s.entries[key]; ok && (r.expiresAt.IsZero() || now.Before(r.expiresAt)) {
		return r.requestID, false, nil
	}
	r := reservation{requestID: requestID}
	if ttl > 0 {
		r.expiresAt = now.Add(ttl)
	}
	s.entries[key] = r
	return requestID, true, nil
}

func (s *InMemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
