package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// BacktestRowStore is an in-memory implementation of storage.BacktestRowStore.
type BacktestRowStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestRow // keyed by (run_id, seq)
}

// NewBacktestRowStore creates a new in-memory backtest row store.
func NewBacktestRowStore() *BacktestRowStore {
	return &BacktestRowStore{
		data: make(map[string]*domain.BacktestRow),
	}
}

// rowKey generates a unique key for a backtest row.
func rowKey(runID string, seq int) string {
	return fmt.Sprintf("%s|%d", runID, seq)
}

// InsertBulk adds multiple rows atomically. Fails entire batch on duplicate (run_id, seq).
func (s *BacktestRowStore) InsertBulk(_ context.Context, rows []*domain.BacktestRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(rows))

	// First pass: check for duplicates (existing + intra-batch)
	for _, r := range rows {
		if r == nil || r.RunID == "" {
			return storage.ErrInvalidInput
		}
		key := rowKey(r.RunID, r.Seq)

		// Check existing data
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		// Check intra-batch duplicate
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range rows {
		key := rowKey(r.RunID, r.Seq)
		rowCopy := *r
		s.data[key] = &rowCopy
	}

	return nil
}

// GetByRunID retrieves all rows for a run, ordered by seq ASC.
func (s *BacktestRowStore) GetByRunID(_ context.Context, runID string) ([]*domain.BacktestRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BacktestRow
	for _, r := range s.data {
		if r.RunID == runID {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

var _ storage.BacktestRowStore = (*BacktestRowStore)(nil)
