package rewriter

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory StateStore. It is the default store of a
// Rewriter and a test double; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	usage      map[Day]map[Credential]int64
	quarantine map[Day]map[Credential]struct{}
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usage:      make(map[Day]map[Credential]int64),
		quarantine: make(map[Day]map[Credential]struct{}),
	}
}

// RecordSuccess increments the count for credential on day.
func (s *MemoryStore) RecordSuccess(_ context.Context, day Day, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, ok := s.usage[day]
	if !ok {
		counts = make(map[Credential]int64)
		s.usage[day] = counts
	}
	counts[credential]++
	return nil
}

// DailyCount returns the count for credential on day.
func (s *MemoryStore) DailyCount(_ context.Context, day Day, credential Credential) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage[day][credential], nil
}

// Counts returns a copy of the counts recorded on day.
func (s *MemoryStore) Counts(_ context.Context, day Day) (map[Credential]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Credential]int64, len(s.usage[day]))
	for c, n := range s.usage[day] {
		out[c] = n
	}
	return out, nil
}

// Quarantine disables credential for day.
func (s *MemoryStore) Quarantine(_ context.Context, day Day, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.quarantine[day]
	if !ok {
		set = make(map[Credential]struct{})
		s.quarantine[day] = set
	}
	set[credential] = struct{}{}
	return nil
}

// IsQuarantined reports whether credential is disabled on day.
func (s *MemoryStore) IsQuarantined(_ context.Context, day Day, credential Credential) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.quarantine[day][credential]
	return ok, nil
}

// Quarantined returns the credentials disabled on day, sorted.
func (s *MemoryStore) Quarantined(_ context.Context, day Day) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, 0, len(s.quarantine[day]))
	for c := range s.quarantine[day] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
