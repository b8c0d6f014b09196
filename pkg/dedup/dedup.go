// Package dedup is the idempotency guard for inbound create-webhooks.
// Upstream senders deliver at-least-once; the guard makes sure at most one
// ingestion proceeds per transaction id, even when duplicates race.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store records accepted transaction ids. TryAccept must be an atomic
// add-if-absent: two concurrent calls for the same tid must never both
// return true. A recorded tid means the create-webhook was forwarded, so a
// caller that fails after winning TryAccept must Release the reservation
// or the upstream retry is rejected forever.
type Store interface {
	// TryAccept returns true exactly once per tid.
	TryAccept(ctx context.Context, tid string) (bool, error)
	// Release frees a reservation after a failed ingestion.
	Release(ctx context.Context, tid string) error
}

// MemoryStore is the single-instance backend, used in tests and dev mode.
type MemoryStore struct {
	mu       sync.Mutex
	accepted map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accepted: make(map[string]time.Time)}
}

func (s *MemoryStore) TryAccept(_ context.Context, tid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.accepted[tid]; dup {
		return false, nil
	}
	s.accepted[tid] = time.Now()
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, tid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accepted, tid)
	return nil
}
