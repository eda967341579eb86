package memory

import (
	"context"
	"sync"

	"studyquiz-service/internal/domain"
)

// ResultStore records submitted summaries keyed by submission key, so
// re-sends of the same finished attempt collapse into one record.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]domain.SessionSummary
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.SessionSummary)}
}

func (s *ResultStore) SubmitResult(_ context.Context, summary domain.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[summary.SubmissionKey]; ok {
		return nil
	}
	s.results[summary.SubmissionKey] = summary
	return nil
}

// Count reports how many distinct submissions were recorded.
func (s *ResultStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Get returns the recorded summary for a submission key.
func (s *ResultStore) Get(submissionKey string) (domain.SessionSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.results[submissionKey]
	return summary, ok
}
