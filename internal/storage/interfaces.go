package storage

import (
	"context"

	"bracket-lab/internal/domain"
)

// CandleStore provides access to candles storage.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails entire batch on duplicate (instrument, timestamp, granularity).
	InsertBulk(ctx context.Context, candles []*domain.Candle, granularityMinutes int) error

	// GetRange retrieves candles for an instrument within [start, end), ordered by timestamp ASC.
	GetRange(ctx context.Context, instrument string, start, end int64, granularityMinutes int) ([]*domain.Candle, error)

	// GetLatestBefore retrieves the most recent candle strictly before ts.
	// Returns ErrNotFound if no earlier candle exists.
	GetLatestBefore(ctx context.Context, instrument string, ts int64, granularityMinutes int) (*domain.Candle, error)
}

// BacktestRowStore provides access to backtest_rows storage.
type BacktestRowStore interface {
	// InsertBulk adds multiple rows atomically. Fails entire batch on duplicate (run_id, seq).
	InsertBulk(ctx context.Context, rows []*domain.BacktestRow) error

	// GetByRunID retrieves all rows for a run, ordered by seq ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.BacktestRow, error)
}

// RunSummaryStore provides access to run_summaries storage.
type RunSummaryStore interface {
	// Insert adds a new summary. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, s *domain.RunSummary) error

	// GetByRunID retrieves a summary by its run ID. Returns ErrNotFound if not exists.
	GetByRunID(ctx context.Context, runID string) (*domain.RunSummary, error)

	// List retrieves all summaries, ordered by created_at ASC then run_id ASC.
	List(ctx context.Context) ([]*domain.RunSummary, error)
}
