package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

func newTestStore(t *testing.T) *CandleStore {
	t.Helper()
	store, err := NewCandleStore(context.Background(), filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("NewCandleStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func candle(instrument string, ts int64, close float64) *domain.Candle {
	return &domain.Candle{
		Instrument: instrument,
		Timestamp:  ts,
		Open:       close,
		High:       close,
		Low:        close,
		Close:      close,
		Volume:     1,
	}
}

func TestInsertAndGetRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	candles := []*domain.Candle{
		candle("X-1", 3600, 0.50),
		candle("X-1", 7200, 0.55),
		candle("X-1", 10800, 0.60),
	}
	if err := store.InsertBulk(ctx, candles, 60); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	got, err := store.GetRange(ctx, "X-1", 3600, 10800, 60)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if got[0].Timestamp != 3600 || got[1].Timestamp != 7200 {
		t.Errorf("unexpected order: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestInsertBulkDuplicateIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Candle{candle("X-1", 3600, 0.50)}, 60); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Candle{
		candle("X-1", 7200, 0.55),
		candle("X-1", 3600, 0.99),
	}, 60)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got: %v", err)
	}

	got, err := store.GetRange(ctx, "X-1", 0, 100000, 60)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("failed batch must not apply partially, have %d candles", len(got))
	}
}

func TestGranularityIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Candle{candle("X-1", 3600, 0.50)}, 60); err != nil {
		t.Fatalf("insert hourly: %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.Candle{candle("X-1", 3600, 0.51)}, 1); err != nil {
		t.Fatalf("insert minutely at same ts: %v", err)
	}

	got, err := store.GetRange(ctx, "X-1", 0, 100000, 1)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 1 || got[0].Close != 0.51 {
		t.Errorf("unexpected minutely candles: %+v", got)
	}
}

func TestGetLatestBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Candle{
		candle("X-1", 3600, 0.50),
		candle("X-1", 7200, 0.55),
	}, 60); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	got, err := store.GetLatestBefore(ctx, "X-1", 7200, 60)
	if err != nil {
		t.Fatalf("GetLatestBefore: %v", err)
	}
	if got.Timestamp != 3600 {
		t.Errorf("timestamp = %d, want 3600 (strictly before)", got.Timestamp)
	}

	if _, err := store.GetLatestBefore(ctx, "X-1", 3600, 60); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.InsertBulk(context.Background(), nil, 60); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Candle{candle("X-1", 0, 0.5)}, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("zero granularity: expected ErrInvalidInput, got %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.Candle{{Timestamp: 1}}, 60); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing instrument: expected ErrInvalidInput, got %v", err)
	}
}
