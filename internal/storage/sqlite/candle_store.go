// Package sqlite implements candle storage on a local SQLite file via
// modernc.org/sqlite. It suits single-machine archives where running
// ClickHouse would be overkill.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// SQLite extended result codes for uniqueness violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	instrument          TEXT    NOT NULL,
	granularity_minutes INTEGER NOT NULL,
	timestamp           INTEGER NOT NULL,
	open                REAL    NOT NULL,
	high                REAL    NOT NULL,
	low                 REAL    NOT NULL,
	close               REAL    NOT NULL,
	volume              REAL    NOT NULL,
	PRIMARY KEY (instrument, granularity_minutes, timestamp)
);
`

// CandleStore implements storage.CandleStore using a SQLite database file.
type CandleStore struct {
	db *sql.DB
}

// NewCandleStore opens (creating if needed) the database at path and
// ensures the candles table exists. Use ":memory:" for an ephemeral store.
func NewCandleStore(ctx context.Context, path string) (*CandleStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create candles table: %w", err)
	}

	return &CandleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *CandleStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles atomically. Fails entire batch on
// duplicate (instrument, timestamp, granularity).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle, granularityMinutes int) error {
	if len(candles) == 0 {
		return nil
	}
	if granularityMinutes <= 0 {
		return storage.ErrInvalidInput
	}
	for _, c := range candles {
		if c == nil || c.Instrument == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO candles (instrument, granularity_minutes, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, c := range candles {
		_, err := tx.ExecContext(ctx, query,
			c.Instrument, granularityMinutes, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
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

	rows, err := s.db.QueryContext(ctx, query, instrument, granularityMinutes, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Instrument, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
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
	err := s.db.QueryRowContext(ctx, query, instrument, granularityMinutes, ts).Scan(
		&c.Instrument, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest candle: %w", err)
	}
	return &c, nil
}

// isDuplicateKeyError checks if error is a uniqueness violation.
func isDuplicateKeyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return false
}
