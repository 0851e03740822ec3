package memory

import (
	"context"
	"sort"
	"sync"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// RunSummaryStore is an in-memory implementation of storage.RunSummaryStore.
type RunSummaryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunSummary // keyed by run_id
}

// NewRunSummaryStore creates a new in-memory run summary store.
func NewRunSummaryStore() *RunSummaryStore {
	return &RunSummaryStore{
		data: make(map[string]*domain.RunSummary),
	}
}

// copySummary returns a detached copy, including the KPI map.
func copySummary(s *domain.RunSummary) *domain.RunSummary {
	out := *s
	if s.KPIs != nil {
		out.KPIs = make(domain.KPIVector, len(s.KPIs))
		for k, v := range s.KPIs {
			out.KPIs[k] = v
		}
	}
	return &out
}

// Insert adds a new summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunSummaryStore) Insert(_ context.Context, sum *domain.RunSummary) error {
	if sum == nil || sum.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sum.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[sum.RunID] = copySummary(sum)
	return nil
}

// GetByRunID retrieves a summary by its run ID. Returns ErrNotFound if not exists.
func (s *RunSummaryStore) GetByRunID(_ context.Context, runID string) (*domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copySummary(sum), nil
}

// List retrieves all summaries, ordered by created_at ASC then run_id ASC.
func (s *RunSummaryStore) List(_ context.Context) ([]*domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunSummary
	for _, sum := range s.data {
		result = append(result, copySummary(sum))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].RunID < result[j].RunID
	})

	return result, nil
}

var _ storage.RunSummaryStore = (*RunSummaryStore)(nil)
