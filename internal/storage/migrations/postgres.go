package migrations

import (
	"context"
	"fmt"

	"bracket-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded backtest_rows and run_summaries
// schema files in lexical order. Every file is idempotent (IF NOT EXISTS),
// so re-running against an initialized database is a no-op.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := readSQL(PostgresFS, "postgres", file)
		if err != nil {
			return err
		}
		if data == "" {
			continue
		}
		if _, err := pool.Exec(ctx, data); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
