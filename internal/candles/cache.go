package candles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// ErrDataUnavailable is returned when the upstream source cannot serve a
// requested window. Callers receive either the full requested range or this
// failure, never a partial range.
var ErrDataUnavailable = errors.New("candle data unavailable")

// Default retry configuration for upstream fetches.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// Key identifies one cached window. Two requests are cache-equivalent iff
// all five fields match exactly.
type Key struct {
	Instrument               string
	WindowStart              int64
	WindowEnd                int64
	GranularityMinutes       int
	IncludeLatestBeforeStart bool
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d,%d)g%dm/latest=%t",
		k.Instrument, k.WindowStart, k.WindowEnd, k.GranularityMinutes, k.IncludeLatestBeforeStart)
}

// Source provides candles on cache misses. storage.CandleStore satisfies it,
// as does the venue history client.
type Source interface {
	// GetRange retrieves candles within [start, end), ordered by timestamp ASC.
	GetRange(ctx context.Context, instrument string, start, end int64, granularityMinutes int) ([]*domain.Candle, error)

	// GetLatestBefore retrieves the most recent candle strictly before ts.
	// Returns storage.ErrNotFound if no earlier candle exists.
	GetLatestBefore(ctx context.Context, instrument string, ts int64, granularityMinutes int) (*domain.Candle, error)
}

// Cache memoizes candle windows by exact Key. A Cache instance is owned by a
// single run and is not safe for concurrent use.
type Cache struct {
	source      Source
	entries     map[Key][]*domain.Candle
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      *log.Logger

	hits   uint64
	misses uint64
}

// CacheOptions contains configuration for creating a Cache.
type CacheOptions struct {
	Source      Source
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
	Logger      *log.Logger
}

// NewCache creates a new candle cache backed by the given source.
func NewCache(opts CacheOptions) *Cache {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	backoffMult := opts.BackoffMult
	if backoffMult == 0 {
		backoffMult = DefaultBackoffMult
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Cache{
		source:      opts.Source,
		entries:     make(map[Key][]*domain.Candle),
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		maxDelay:    maxDelay,
		backoffMult: backoffMult,
		logger:      logger,
	}
}

// Get returns the candle sequence for the key. On a hit the stored sequence
// is returned without any upstream call. On a miss the source is queried,
// the result is stored under the exact key, and returned.
//
// When IncludeLatestBeforeStart is set, the single most recent candle
// strictly before WindowStart is prepended. The flag is part of the key:
// the same window with and without it are distinct entries.
func (c *Cache) Get(ctx context.Context, key Key) ([]*domain.Candle, error) {
	if key.Instrument == "" || key.WindowEnd <= key.WindowStart || key.GranularityMinutes <= 0 {
		return nil, fmt.Errorf("%w: invalid key %s", ErrDataUnavailable, key)
	}

	if seq, ok := c.entries[key]; ok {
		c.hits++
		return copySeries(seq), nil
	}
	c.misses++

	seq, err := c.fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	owned := copySeries(seq)
	c.entries[key] = owned
	c.logger.Printf("cached %s: %d candles", key, len(owned))
	return copySeries(owned), nil
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// fetch retrieves the full window from the source, including the marker
// candle when requested, and validates the sequence.
func (c *Cache) fetch(ctx context.Context, key Key) ([]*domain.Candle, error) {
	var window []*domain.Candle
	err := c.withRetry(ctx, func() error {
		var ferr error
		window, ferr = c.source.GetRange(ctx, key.Instrument, key.WindowStart, key.WindowEnd, key.GranularityMinutes)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: empty window", ErrDataUnavailable)
	}

	seq := window
	if key.IncludeLatestBeforeStart {
		var marker *domain.Candle
		err := c.withRetry(ctx, func() error {
			var ferr error
			marker, ferr = c.source.GetLatestBefore(ctx, key.Instrument, key.WindowStart, key.GranularityMinutes)
			return ferr
		})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: no candle before window start", ErrDataUnavailable)
			}
			return nil, err
		}
		if marker.Timestamp >= key.WindowStart {
			return nil, fmt.Errorf("%w: source returned marker at %d, not strictly before %d",
				ErrDataUnavailable, marker.Timestamp, key.WindowStart)
		}
		seq = append([]*domain.Candle{marker}, window...)
	}

	if err := validateSeries(seq, key); err != nil {
		return nil, err
	}
	return seq, nil
}

// withRetry runs fn with bounded exponential backoff. Definitive failures
// (missing data, cancelled context) are not retried.
func (c *Cache) withRetry(ctx context.Context, fn func() error) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Printf("retrying upstream fetch (attempt %d/%d) after error: %v", attempt, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDataUnavailable) || errors.Is(err, storage.ErrNotFound) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: max retries exceeded: %v", ErrDataUnavailable, lastErr)
}

// validateSeries checks the invariants of a fetched sequence: time-ascending
// with no duplicate timestamps, and every non-marker candle inside the window.
func validateSeries(seq []*domain.Candle, key Key) error {
	for i, cd := range seq {
		if cd == nil {
			return fmt.Errorf("%w: nil candle at index %d", ErrDataUnavailable, i)
		}
		if i > 0 && cd.Timestamp <= seq[i-1].Timestamp {
			return fmt.Errorf("%w: out-of-order candle at index %d (%d <= %d)",
				ErrDataUnavailable, i, cd.Timestamp, seq[i-1].Timestamp)
		}
		inWindow := cd.Timestamp >= key.WindowStart && cd.Timestamp < key.WindowEnd
		isMarker := key.IncludeLatestBeforeStart && i == 0 && cd.Timestamp < key.WindowStart
		if !inWindow && !isMarker {
			return fmt.Errorf("%w: candle at %d outside window [%d,%d)",
				ErrDataUnavailable, cd.Timestamp, key.WindowStart, key.WindowEnd)
		}
	}
	return nil
}

func copySeries(seq []*domain.Candle) []*domain.Candle {
	out := make([]*domain.Candle, len(seq))
	for i, cd := range seq {
		candleCopy := *cd
		out[i] = &candleCopy
	}
	return out
}
