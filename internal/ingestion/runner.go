package ingestion

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/kalshi"
	"bracket-lab/internal/observability"
	"bracket-lab/internal/storage"
)

// TickerFeed is the live update stream the runner consumes. Satisfied by
// *kalshi.WSClient.
type TickerFeed interface {
	SubscribeTicker(ctx context.Context, marketTickers []string) (<-chan kalshi.TickerUpdate, error)
}

// Runner follows the live ticker feed and folds updates into candles,
// flushing a bucket to the store once its period has closed.
type Runner struct {
	feed               TickerFeed
	store              storage.CandleStore
	tickers            []string
	granularityMinutes int
	flushInterval      time.Duration
	logger             *log.Logger

	// buckets holds the open candle per (instrument, period end)
	buckets map[bucketKey]*domain.Candle
	// latestTs is the newest update timestamp seen, drives bucket finalization
	latestTs int64
}

type bucketKey struct {
	instrument string
	periodEnd  int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Feed               TickerFeed
	Store              storage.CandleStore
	Tickers            []string
	GranularityMinutes int
	// FlushInterval is how often closed buckets are force-flushed even when
	// no newer updates arrive.
	FlushInterval time.Duration
	Logger        *log.Logger
}

// NewRunner creates a follow-mode ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	granularity := opts.GranularityMinutes
	if granularity == 0 {
		granularity = domain.GranularityMinute
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		feed:               opts.Feed,
		store:              opts.Store,
		tickers:            opts.Tickers,
		granularityMinutes: granularity,
		flushInterval:      flushInterval,
		logger:             logger,
		buckets:            make(map[bucketKey]*domain.Candle),
	}
}

// Run consumes the feed until the context is cancelled. Remaining open
// buckets are flushed on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("Starting follow ingestion for %d markets at %dm granularity",
		len(r.tickers), r.granularityMinutes)

	updates, err := r.feed.SubscribeTicker(ctx, r.tickers)
	if err != nil {
		return err
	}
	r.logger.Println("Subscribed to ticker feed")

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Flush everything, including the still-open period
			r.flush(ctx, true)
			r.logger.Println("Runner stopping...")
			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				r.flush(ctx, true)
				return errors.New("ticker feed closed")
			}
			r.apply(update)
			observability.RecordTickerUpdate()
			r.flush(ctx, false)

		case <-flushTicker.C:
			r.flush(ctx, false)
		}
	}
}

// apply folds one update into its candle bucket.
func (r *Runner) apply(u kalshi.TickerUpdate) {
	if u.Ts > r.latestTs {
		r.latestTs = u.Ts
	}

	price := u.Mid()
	key := bucketKey{instrument: u.MarketTicker, periodEnd: r.periodEnd(u.Ts)}

	c, ok := r.buckets[key]
	if !ok {
		r.buckets[key] = &domain.Candle{
			Instrument: u.MarketTicker,
			Timestamp:  key.periodEnd,
			Open:       price,
			High:       price,
			Low:        price,
			Close:      price,
			Volume:     float64(u.Volume),
		}
		observability.DefaultMetrics.CandleBufferSize.Set(float64(len(r.buckets)))
		return
	}

	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	// The venue reports cumulative volume; keep the latest reading
	if v := float64(u.Volume); v > c.Volume {
		c.Volume = v
	}
}

// periodEnd returns the end timestamp of the period containing ts,
// matching the venue's end-period candle timestamps.
func (r *Runner) periodEnd(ts int64) int64 {
	span := int64(r.granularityMinutes) * 60
	return ((ts / span) + 1) * span
}

// flush stores buckets whose period has closed. With all set, open buckets
// are flushed too (shutdown path).
func (r *Runner) flush(ctx context.Context, all bool) {
	var keys []bucketKey
	for key := range r.buckets {
		if all || key.periodEnd <= r.latestTs {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].periodEnd != keys[j].periodEnd {
			return keys[i].periodEnd < keys[j].periodEnd
		}
		return keys[i].instrument < keys[j].instrument
	})

	for _, key := range keys {
		c := r.buckets[key]
		err := r.store.InsertBulk(ctx, []*domain.Candle{c}, r.granularityMinutes)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			// Already archived, e.g. overlap with a backfill
			observability.RecordDuplicatesSkipped(1)
		case err != nil:
			r.logger.Printf("Error storing candle %s@%d: %v", key.instrument, key.periodEnd, err)
			observability.RecordIngestionError("store")
			continue // keep the bucket for the next flush
		default:
			observability.RecordCandlesIngested("follow", 1)
			observability.DefaultMetrics.LatestCandleEndTime.Set(float64(key.periodEnd))
		}
		delete(r.buckets, key)
	}

	observability.DefaultMetrics.CandleBufferSize.Set(float64(len(r.buckets)))
}
