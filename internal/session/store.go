package session

import (
	"context"
	"sync"
	"time"
)

// Store persists session snapshots with optimistic concurrency. Save succeeds
// only when the stored version equals snap.Version and bumps it on success.
type Store interface {
	Create(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Entries expire ttl after their last save.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	if _, exists := s.entries[snap.ID]; exists {
		return ErrVersionConflict
	}
	snap.Version = 1
	s.entries[snap.ID] = memoryEntry{snap: snap.Clone(), expiresAt: s.expiry()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.snap.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(snap.ID)
	if !ok {
		return ErrNotFound
	}
	if entry.snap.Version != snap.Version {
		return ErrVersionConflict
	}
	snap.Version++
	s.entries[snap.ID] = memoryEntry{snap: snap.Clone(), expiresAt: s.expiry()}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Len reports how many unexpired sessions are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	return len(s.entries)
}

func (s *MemoryStore) live(id string) (memoryEntry, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) evictExpired() {
	for id := range s.entries {
		s.live(id)
	}
}
