package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Record is the state kept per action:identifier key.
type Record struct {
	Count        int       `json:"count"`
	ResetTime    time.Time `json:"reset_time"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

func (r Record) blocked(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// expired reports whether both the window and any block are over.
func (r Record) expired(now time.Time) bool {
	return !now.Before(r.ResetTime) && !r.blocked(now)
}

// Store persists rate limit records. Get returns (nil, nil) for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, rec Record) error
	Delete(ctx context.Context, key string) error
	// Sweep drops records that have fully expired at now.
	Sweep(ctx context.Context, now time.Time) error
}

// MemoryStore keeps records in process memory. Limits are per instance.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, key)
		}
	}
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
