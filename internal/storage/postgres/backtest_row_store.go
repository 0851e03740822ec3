package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// BacktestRowStore implements storage.BacktestRowStore using PostgreSQL.
type BacktestRowStore struct {
	pool *Pool
}

// NewBacktestRowStore creates a new BacktestRowStore.
func NewBacktestRowStore(pool *Pool) *BacktestRowStore {
	return &BacktestRowStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BacktestRowStore = (*BacktestRowStore)(nil)

const backtestRowColumns = `
	run_id, seq, event_id, contract_id,
	side, probability, low_confidence, action, size, entry_price, edge,
	outcome, settlement_value, pnl
`

// InsertBulk adds multiple rows atomically. Fails entire batch on duplicate (run_id, seq).
func (s *BacktestRowStore) InsertBulk(ctx context.Context, rows []*domain.BacktestRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO backtest_rows (` + backtestRowColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14
		)
	`

	for _, r := range rows {
		_, err := tx.Exec(ctx, query,
			r.RunID, r.Seq, r.EventID, r.ContractID,
			r.Side, r.Probability, r.LowConfidence, r.Action, r.Size, r.EntryPrice, r.Edge,
			r.Outcome, r.SettlementValue, r.PnL,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert backtest row in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByRunID retrieves all rows for a run, ordered by seq ASC.
func (s *BacktestRowStore) GetByRunID(ctx context.Context, runID string) ([]*domain.BacktestRow, error) {
	query := `
		SELECT ` + backtestRowColumns + `
		FROM backtest_rows
		WHERE run_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get backtest rows by run id: %w", err)
	}
	defer rows.Close()

	return scanBacktestRows(rows)
}

// scanBacktestRows scans multiple rows into a slice of BacktestRow.
func scanBacktestRows(rows pgx.Rows) ([]*domain.BacktestRow, error) {
	var out []*domain.BacktestRow

	for rows.Next() {
		var r domain.BacktestRow

		err := rows.Scan(
			&r.RunID, &r.Seq, &r.EventID, &r.ContractID,
			&r.Side, &r.Probability, &r.LowConfidence, &r.Action, &r.Size, &r.EntryPrice, &r.Edge,
			&r.Outcome, &r.SettlementValue, &r.PnL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan backtest row: %w", err)
		}

		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest rows: %w", err)
	}

	return out, nil
}
