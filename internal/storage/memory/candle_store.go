package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// candleRow pairs a candle with the granularity it was stored under.
type candleRow struct {
	granularity int
	candle      domain.Candle
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]candleRow // keyed by (instrument, granularity_minutes, timestamp)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]candleRow),
	}
}

// candleKey generates a unique key for a candle.
func candleKey(instrument string, granularityMinutes int, timestamp int64) string {
	return fmt.Sprintf("%s|%d|%d", instrument, granularityMinutes, timestamp)
}

// InsertBulk adds multiple candles. Fails entire batch on duplicate (instrument, timestamp, granularity).
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle, granularityMinutes int) error {
	if len(candles) == 0 {
		return nil
	}
	if granularityMinutes <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(candles))

	// First pass: check for duplicates (existing + intra-batch)
	for _, c := range candles {
		if c == nil || c.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey(c.Instrument, granularityMinutes, c.Timestamp)

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
	for _, c := range candles {
		key := candleKey(c.Instrument, granularityMinutes, c.Timestamp)
		s.data[key] = candleRow{granularity: granularityMinutes, candle: *c}
	}

	return nil
}

// GetRange retrieves candles for an instrument within [start, end), ordered by timestamp ASC.
func (s *CandleStore) GetRange(_ context.Context, instrument string, start, end int64, granularityMinutes int) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, r := range s.data {
		if r.candle.Instrument == instrument && r.granularity == granularityMinutes &&
			r.candle.Timestamp >= start && r.candle.Timestamp < end {
			candleCopy := r.candle
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// GetLatestBefore retrieves the most recent candle strictly before ts.
// Returns ErrNotFound if no earlier candle exists.
func (s *CandleStore) GetLatestBefore(_ context.Context, instrument string, ts int64, granularityMinutes int) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Candle
	for _, r := range s.data {
		if r.candle.Instrument != instrument || r.granularity != granularityMinutes {
			continue
		}
		if r.candle.Timestamp >= ts {
			continue
		}
		if best == nil || r.candle.Timestamp > best.Timestamp {
			candleCopy := r.candle
			best = &candleCopy
		}
	}

	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
