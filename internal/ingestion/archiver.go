// Package ingestion moves candle history from the venue into the local
// archive: paged backfill over the REST API and a follow mode that folds
// live ticker updates into candles.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bracket-lab/internal/candles"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// Archiver backfills candle history into a candle store.
type Archiver struct {
	source             candles.Source
	store              storage.CandleStore
	granularityMinutes int
	pagePeriods        int
	batchSize          int
	logger             *log.Logger
}

// ArchiverOptions contains configuration for creating an Archiver.
type ArchiverOptions struct {
	Source             candles.Source
	Store              storage.CandleStore
	GranularityMinutes int
	// PagePeriods is how many periods one upstream request covers.
	PagePeriods int
	// BatchSize is the store insert batch size.
	BatchSize int
	Logger    *log.Logger
}

// Default archiver configuration.
const (
	DefaultPagePeriods    = 5000
	DefaultInsertBatch    = 1000
	DefaultResumeLookback = 30 * 24 * time.Hour
)

// NewArchiver creates a historical candle archiver.
func NewArchiver(opts ArchiverOptions) *Archiver {
	pagePeriods := opts.PagePeriods
	if pagePeriods == 0 {
		pagePeriods = DefaultPagePeriods
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = DefaultInsertBatch
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Archiver{
		source:             opts.Source,
		store:              opts.Store,
		granularityMinutes: opts.GranularityMinutes,
		pagePeriods:        pagePeriods,
		batchSize:          batchSize,
		logger:             logger,
	}
}

// ArchiveResult contains statistics from an archive operation.
type ArchiveResult struct {
	CandlesFetched    int
	CandlesStored     int
	DuplicatesSkipped int
	Pages             int
	Errors            int
	Duration          time.Duration
}

// ArchiveSince backfills from a given timestamp until now.
func (a *Archiver) ArchiveSince(ctx context.Context, instrument string, since time.Time) (*ArchiveResult, error) {
	return a.ArchiveRange(ctx, instrument, since, time.Now())
}

// ArchiveRange backfills one instrument for a specific time range, paging
// the upstream source and skipping candles the store already holds. Resumable:
// re-running the same range leaves the archive unchanged.
func (a *Archiver) ArchiveRange(ctx context.Context, instrument string, from, to time.Time) (*ArchiveResult, error) {
	start := time.Now()
	result := &ArchiveResult{}

	fromTs := from.Unix()
	toTs := to.Unix()
	pageSpan := int64(a.pagePeriods) * int64(a.granularityMinutes) * 60

	a.logger.Printf("Starting archive of %s from %s to %s", instrument,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	for pageStart := fromTs; pageStart < toTs; pageStart += pageSpan {
		pageEnd := pageStart + pageSpan
		if pageEnd > toTs {
			pageEnd = toTs
		}
		result.Pages++

		fetched, err := a.source.GetRange(ctx, instrument, pageStart, pageEnd, a.granularityMinutes)
		if err != nil {
			return result, fmt.Errorf("fetch page [%d, %d): %w", pageStart, pageEnd, err)
		}
		result.CandlesFetched += len(fetched)

		if len(fetched) == 0 {
			continue
		}

		// Drop candles already archived so re-runs stay duplicate-safe
		existing, err := a.store.GetRange(ctx, instrument, pageStart, pageEnd, a.granularityMinutes)
		if err != nil {
			return result, fmt.Errorf("check existing [%d, %d): %w", pageStart, pageEnd, err)
		}
		have := make(map[int64]struct{}, len(existing))
		for _, c := range existing {
			have[c.Timestamp] = struct{}{}
		}

		fresh := fetched[:0]
		for _, c := range fetched {
			if _, ok := have[c.Timestamp]; ok {
				result.DuplicatesSkipped++
				continue
			}
			fresh = append(fresh, c)
		}

		stored, dupes, errs := a.storeCandles(ctx, fresh)
		result.CandlesStored += stored
		result.DuplicatesSkipped += dupes
		result.Errors += errs
	}

	result.Duration = time.Since(start)
	a.logger.Printf("Archive complete for %s: %d fetched, %d stored, %d dupes, %d errors in %v",
		instrument, result.CandlesFetched, result.CandlesStored,
		result.DuplicatesSkipped, result.Errors, result.Duration)

	return result, nil
}

// Resume continues a backfill from the newest archived candle, or from the
// default lookback when the archive is empty for the instrument.
func (a *Archiver) Resume(ctx context.Context, instrument string, until time.Time) (*ArchiveResult, error) {
	latest, err := a.store.GetLatestBefore(ctx, instrument, until.Unix(), a.granularityMinutes)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return a.ArchiveRange(ctx, instrument, until.Add(-DefaultResumeLookback), until)
	case err != nil:
		return nil, fmt.Errorf("find resume point: %w", err)
	}

	from := time.Unix(latest.Timestamp+int64(a.granularityMinutes)*60, 0)
	if !from.Before(until) {
		a.logger.Printf("Archive for %s already current (latest %d)", instrument, latest.Timestamp)
		return &ArchiveResult{}, nil
	}
	return a.ArchiveRange(ctx, instrument, from, until)
}

// storeCandles inserts candles in batches, handling duplicates.
func (a *Archiver) storeCandles(ctx context.Context, batch []*domain.Candle) (stored, dupes, errs int) {
	for i := 0; i < len(batch); i += a.batchSize {
		end := i + a.batchSize
		if end > len(batch) {
			end = len(batch)
		}

		chunk := batch[i:end]
		err := a.store.InsertBulk(ctx, chunk, a.granularityMinutes)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				// Insert one by one to find which are duplicates
				for _, c := range chunk {
					if err := a.store.InsertBulk(ctx, []*domain.Candle{c}, a.granularityMinutes); err != nil {
						if errors.Is(err, storage.ErrDuplicateKey) {
							dupes++
						} else {
							errs++
						}
					} else {
						stored++
					}
				}
			} else {
				errs += len(chunk)
				a.logger.Printf("Error storing batch: %v", err)
			}
		} else {
			stored += len(chunk)
		}
	}

	return stored, dupes, errs
}
