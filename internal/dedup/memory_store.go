package dedup

import (
	"context"
	"sync"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
)

// MemoryStore keeps the sets in process memory. It is intended for unit tests and dry runs.
// It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	sets      map[Set]map[withdrawal.ID]struct{}
	cursor    uint64
	hasCursor bool
}

func NewMemoryStore() *MemoryStore {
	sets := make(map[Set]map[withdrawal.ID]struct{}, 3)
	for _, set := range Sets() {
		sets[set] = make(map[withdrawal.ID]struct{})
	}
	return &MemoryStore{sets: sets}
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[Set][]withdrawal.ID, len(s.sets))
	for set, m := range s.sets {
		for id := range m {
			members[set] = append(members[set], id)
		}
	}
	return NewSnapshot(members), nil
}

func (s *MemoryStore) Contains(_ context.Context, set Set, id withdrawal.ID) (bool, error) {
	id, err := CheckArgs(set, id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[set][id]
	return ok, nil
}

func (s *MemoryStore) Add(_ context.Context, set Set, id withdrawal.ID) error {
	id, err := CheckArgs(set, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.IsPending() {
		if _, done := s.sets[SetProcessed][id]; done {
			return nil
		}
		other, _ := OtherPending(set)
		if _, dup := s.sets[other][id]; dup {
			return kindConflict(set, id)
		}
	}
	s.sets[set][id] = struct{}{}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, set Set, id withdrawal.ID) error {
	id, err := CheckRemove(set, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[set], id)
	return nil
}

func (s *MemoryStore) Cursor(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *MemoryStore) SetCursor(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = block
	s.hasCursor = true
	return nil
}

func (s *MemoryStore) Close() error { return nil }
