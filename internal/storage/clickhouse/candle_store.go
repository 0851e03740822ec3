package clickhouse

import (
	"context"
	"fmt"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse. MergeTree
// engines do not enforce uniqueness, so duplicates are rejected by explicit
// pre-checks before the batch is sent.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate
// (instrument, timestamp, granularity).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle, granularityMinutes int) error {
	if len(candles) == 0 {
		return nil
	}
	if granularityMinutes <= 0 {
		return storage.ErrInvalidInput
	}

	// Check for intra-batch duplicates
	type key struct {
		instrument string
		timestamp  int64
	}
	seen := make(map[key]struct{})
	for _, c := range candles {
		if c == nil || c.Instrument == "" {
			return storage.ErrInvalidInput
		}
		k := key{c.Instrument, c.Timestamp}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, c := range candles {
		exists, err := s.exists(ctx, c.Instrument, c.Timestamp, granularityMinutes)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			instrument, granularity_minutes, timestamp, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Instrument, int32(granularityMinutes), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRange retrieves candles for an instrument within [start, end), ordered by timestamp ASC.
func (s *CandleStore) GetRange(ctx context.Context, instrument string, start, end int64, granularityMinutes int) ([]*domain.Candle, error) {
	query := `
		SELECT instrument, timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND granularity_minutes = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument, int32(granularityMinutes), start, end)
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatestBefore retrieves the most recent candle strictly before ts.
// Returns ErrNotFound if no earlier candle exists.
func (s *CandleStore) GetLatestBefore(ctx context.Context, instrument string, ts int64, granularityMinutes int) (*domain.Candle, error) {
	query := `
		SELECT instrument, timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND granularity_minutes = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var c domain.Candle
	err := s.conn.QueryRow(ctx, query, instrument, int32(granularityMinutes), ts).Scan(
		&c.Instrument, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
	)
	if err != nil {
		// The driver returns sql.ErrNoRows-compatible errors for empty results,
		// but probing avoids depending on the exact sentinel
		exists, exErr := s.hasAnyBefore(ctx, instrument, ts, granularityMinutes)
		if exErr == nil && !exists {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query latest candle: %w", err)
	}
	return &c, nil
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, instrument string, timestamp int64, granularityMinutes int) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE instrument = ? AND granularity_minutes = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, instrument, int32(granularityMinutes), timestamp).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// hasAnyBefore checks whether any candle precedes ts.
func (s *CandleStore) hasAnyBefore(ctx context.Context, instrument string, ts int64, granularityMinutes int) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE instrument = ? AND granularity_minutes = ? AND timestamp < ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, instrument, int32(granularityMinutes), ts).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle

		err := rows.Scan(
			&c.Instrument, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
