package candles

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// fakeSource serves a fixed series and counts upstream calls.
type fakeSource struct {
	series      []*domain.Candle
	rangeCalls  int
	latestCalls int
	failRange   int // fail this many GetRange calls before succeeding
	latestErr   error
}

func (f *fakeSource) GetRange(_ context.Context, instrument string, start, end int64, _ int) ([]*domain.Candle, error) {
	f.rangeCalls++
	if f.failRange > 0 {
		f.failRange--
		return nil, fmt.Errorf("transient upstream failure")
	}
	var out []*domain.Candle
	for _, c := range f.series {
		if c.Instrument == instrument && c.Timestamp >= start && c.Timestamp < end {
			candleCopy := *c
			out = append(out, &candleCopy)
		}
	}
	return out, nil
}

func (f *fakeSource) GetLatestBefore(_ context.Context, instrument string, ts int64, _ int) (*domain.Candle, error) {
	f.latestCalls++
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	var best *domain.Candle
	for _, c := range f.series {
		if c.Instrument == instrument && c.Timestamp < ts {
			if best == nil || c.Timestamp > best.Timestamp {
				best = c
			}
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	candleCopy := *best
	return &candleCopy, nil
}

func testSeries() []*domain.Candle {
	return []*domain.Candle{
		{Instrument: "BTC-USD", Timestamp: 500, Close: 0.9},
		{Instrument: "BTC-USD", Timestamp: 1000, Close: 1.0},
		{Instrument: "BTC-USD", Timestamp: 2000, Close: 1.1},
		{Instrument: "BTC-USD", Timestamp: 3000, Close: 1.2},
	}
}

func newTestCache(src Source) *Cache {
	return NewCache(CacheOptions{
		Source:     src,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
}

func TestCache_MissThenHit(t *testing.T) {
	src := &fakeSource{series: testSeries()}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}

	first, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("First Get failed: %v", err)
	}
	if src.rangeCalls != 1 {
		t.Errorf("Expected 1 upstream fetch after miss, got %d", src.rangeCalls)
	}

	second, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	if src.rangeCalls != 1 {
		t.Errorf("Expected 0 additional fetches on hit, got %d total", src.rangeCalls)
	}

	if len(first) != len(second) {
		t.Fatalf("Hit returned different length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Timestamp != second[i].Timestamp || first[i].Close != second[i].Close {
			t.Errorf("Hit differs at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}
}

func TestCache_MarkerFlagIsPartOfKey(t *testing.T) {
	src := &fakeSource{series: testSeries()}
	cache := newTestCache(src)
	ctx := context.Background()

	plain := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}
	withMarker := plain
	withMarker.IncludeLatestBeforeStart = true

	a, err := cache.Get(ctx, plain)
	if err != nil {
		t.Fatalf("Get without marker failed: %v", err)
	}
	b, err := cache.Get(ctx, withMarker)
	if err != nil {
		t.Fatalf("Get with marker failed: %v", err)
	}

	// Two distinct entries, so two upstream window fetches
	if src.rangeCalls != 2 {
		t.Errorf("Expected 2 upstream fetches for distinct keys, got %d", src.rangeCalls)
	}

	if len(b) != len(a)+1 {
		t.Fatalf("Expected marker to add one candle: %d vs %d", len(b), len(a))
	}
	if b[0].Timestamp >= withMarker.WindowStart {
		t.Errorf("Marker candle at %d is not strictly before window start %d", b[0].Timestamp, withMarker.WindowStart)
	}
	if b[0].Timestamp != 500 {
		t.Errorf("Expected marker at 500, got %d", b[0].Timestamp)
	}
}

func TestCache_NoMarkerAvailable(t *testing.T) {
	src := &fakeSource{series: testSeries()}
	cache := newTestCache(src)
	ctx := context.Background()

	// Window starts at the first candle, so nothing precedes it
	key := Key{Instrument: "BTC-USD", WindowStart: 500, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay, IncludeLatestBeforeStart: true}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable when no marker exists, got %v", err)
	}
}

func TestCache_MarkerNotStrictlyBefore(t *testing.T) {
	// Source misbehaves: returns a candle at the window start itself
	src := &badMarkerSource{fakeSource: &fakeSource{series: testSeries()}}
	cache := NewCache(CacheOptions{Source: src, MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay, IncludeLatestBeforeStart: true}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for marker at window start, got %v", err)
	}
}

// badMarkerSource returns the window-start candle from GetLatestBefore.
type badMarkerSource struct {
	*fakeSource
}

func (b *badMarkerSource) GetLatestBefore(_ context.Context, _ string, ts int64, _ int) (*domain.Candle, error) {
	return &domain.Candle{Instrument: "BTC-USD", Timestamp: ts, Close: 1.0}, nil
}

func TestCache_EmptyWindowUnavailable(t *testing.T) {
	src := &fakeSource{series: testSeries()}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 50000, WindowEnd: 60000, GranularityMinutes: domain.GranularityDay}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for empty window, got %v", err)
	}
}

func TestCache_RetryThenSucceed(t *testing.T) {
	src := &fakeSource{series: testSeries(), failRange: 2}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}

	result, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get should succeed after transient failures: %v", err)
	}
	if src.rangeCalls != 3 {
		t.Errorf("Expected 3 attempts (2 failures + 1 success), got %d", src.rangeCalls)
	}
	if len(result) != 3 {
		t.Errorf("Expected 3 candles, got %d", len(result))
	}
}

func TestCache_PersistentFailure(t *testing.T) {
	src := &fakeSource{series: testSeries(), failRange: 100}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable after retries exhausted, got %v", err)
	}
	// MaxRetries 2 means 3 attempts total
	if src.rangeCalls != 3 {
		t.Errorf("Expected 3 attempts, got %d", src.rangeCalls)
	}
}

func TestCache_NoPartialOnMarkerFailure(t *testing.T) {
	src := &fakeSource{series: testSeries(), latestErr: fmt.Errorf("marker fetch broken")}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay, IncludeLatestBeforeStart: true}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable when marker fetch fails, got %v", err)
	}

	// Failed fetch must not leave a partial entry behind
	_, misses := cache.Stats()
	if misses != 1 {
		t.Errorf("Expected 1 miss recorded, got %d", misses)
	}
	src.latestErr = nil
	result, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after source recovery failed: %v", err)
	}
	if len(result) != 4 {
		t.Errorf("Expected full sequence with marker (4 candles), got %d", len(result))
	}
}

func TestCache_CopyOnRead(t *testing.T) {
	src := &fakeSource{series: testSeries()}
	cache := newTestCache(src)
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}

	first, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	first[0].Close = 999.0

	second, _ := cache.Get(ctx, key)
	if second[0].Close == 999.0 {
		t.Errorf("Cached entry mutated through returned copy")
	}
}

func TestCache_InvalidKey(t *testing.T) {
	cache := newTestCache(&fakeSource{series: testSeries()})
	ctx := context.Background()

	cases := []Key{
		{Instrument: "", WindowStart: 1000, WindowEnd: 2000, GranularityMinutes: 60},
		{Instrument: "BTC-USD", WindowStart: 2000, WindowEnd: 1000, GranularityMinutes: 60},
		{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 2000, GranularityMinutes: 0},
	}
	for _, key := range cases {
		if _, err := cache.Get(ctx, key); !errors.Is(err, ErrDataUnavailable) {
			t.Errorf("Expected ErrDataUnavailable for key %s, got %v", key, err)
		}
	}
}

func TestCache_OutOfOrderSourceRejected(t *testing.T) {
	src := &unorderedSource{}
	cache := NewCache(CacheOptions{Source: src, MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	key := Key{Instrument: "BTC-USD", WindowStart: 1000, WindowEnd: 4000, GranularityMinutes: domain.GranularityDay}

	_, err := cache.Get(ctx, key)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for out-of-order source data, got %v", err)
	}
}

// unorderedSource returns candles in descending time order.
type unorderedSource struct{}

func (u *unorderedSource) GetRange(_ context.Context, instrument string, _, _ int64, _ int) ([]*domain.Candle, error) {
	return []*domain.Candle{
		{Instrument: instrument, Timestamp: 2000, Close: 1.1},
		{Instrument: instrument, Timestamp: 1000, Close: 1.0},
	}, nil
}

func (u *unorderedSource) GetLatestBefore(_ context.Context, _ string, _ int64, _ int) (*domain.Candle, error) {
	return nil, storage.ErrNotFound
}
