package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process; used when no Redis address is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store. Expired records are dropped lazily.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Record, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || !now.Before(record.ExpiresAt) {
		record = Record{Fingerprint: fingerprint, State: StatePending, ExpiresAt: now.Add(ttl)}
		s.records[id] = record
		return record, true, nil
	}
	if record.Fingerprint != fingerprint {
		return Record{}, false, ErrFingerprintMismatch
	}
	return record, false, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, record Record, _ time.Duration) error {
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && existing.Fingerprint != record.Fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = record
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hashKey(key))
	return nil
}
