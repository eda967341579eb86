package memory

import (
	"context"
	"sync"
)

// QBankStore keeps per-user seen-question sets in memory.
type QBankStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{}
}

func NewQBankStore() *QBankStore {
	return &QBankStore{seen: make(map[string]map[string]struct{})}
}

func (s *QBankStore) Contains(_ context.Context, userID string, questionIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(questionIDs))
	set := s.seen[userID]
	for _, id := range questionIDs {
		_, ok := set[id]
		out[id] = ok
	}
	return out, nil
}

func (s *QBankStore) Add(_ context.Context, userID string, questionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seen[userID]
	if !ok {
		set = make(map[string]struct{})
		s.seen[userID] = set
	}
	for _, id := range questionIDs {
		set[id] = struct{}{}
	}
	return nil
}
