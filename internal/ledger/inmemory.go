package ledger

import (
	"context"
	"sync"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]CachedBalance
	records  map[Namespace][]Record
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and single-process demos.
func NewInMemory() Store {
	return &inMemoryStore{
		balances: make(map[string]CachedBalance),
		records:  make(map[Namespace][]Record),
	}
}

func (s *inMemoryStore) CachedBalance(_ context.Context, address string) (CachedBalance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[NormalizeAddress(address)]
	return bal, ok, nil
}

func (s *inMemoryStore) PutBalance(_ context.Context, balance CachedBalance) error {
	if balance.Amount < 0 {
		return ErrNegativeBalance
	}
	balance.Address = NormalizeAddress(balance.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balance.Address] = balance
	return nil
}

func (s *inMemoryStore) Records(_ context.Context, ns Namespace) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records[ns]))
	copy(out, s.records[ns])
	return out, nil
}

func (s *inMemoryStore) AppendRecord(_ context.Context, ns Namespace, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records[ns] {
		if existing.ReferenceCode == record.ReferenceCode {
			return ErrDuplicateReference
		}
	}
	s.records[ns] = append(s.records[ns], record)
	return nil
}

func (s *inMemoryStore) UpdateRecord(_ context.Context, ns Namespace, match MatchFunc, mutate MutateFunc) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.records[ns]
	for i := range list {
		if !match(list[i]) {
			continue
		}
		candidate := list[i]
		if !mutate(&candidate) {
			return list[i], false, nil
		}
		list[i] = candidate
		return candidate, true, nil
	}
	return Record{}, false, nil
}

func (s *inMemoryStore) DeleteRecord(_ context.Context, ns Namespace, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.records[ns]
	for i := range list {
		if list[i].ID == id {
			s.records[ns] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *inMemoryStore) DeleteRecords(_ context.Context, ns Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ns)
	return nil
}
