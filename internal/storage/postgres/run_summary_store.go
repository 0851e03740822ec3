package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// RunSummaryStore implements storage.RunSummaryStore using PostgreSQL.
// The fixed KPI set is stored as flat columns so summaries stay queryable
// without JSON extraction.
type RunSummaryStore struct {
	pool *Pool
}

// NewRunSummaryStore creates a new RunSummaryStore.
func NewRunSummaryStore(pool *Pool) *RunSummaryStore {
	return &RunSummaryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunSummaryStore = (*RunSummaryStore)(nil)

const runSummaryColumns = `
	run_id, label, instrument,
	kpi_pnl_total, kpi_pnl_avg, kpi_pnl_std, kpi_sharpe_like, kpi_max_drawdown,
	kpi_hit_rate, kpi_avg_edge, kpi_edge_pnl_corr, kpi_brier_mean, kpi_logloss_mean, kpi_ece,
	input_hash, generated_at, code_version, command_line, tool_version,
	total_rows, settled_rows, unsettled_rows, skipped_rows,
	config_hash, rows_csv_path, report_md_path, sanity_md_path, sanity_json_path,
	created_at
`

// Insert adds a new summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunSummaryStore) Insert(ctx context.Context, sum *domain.RunSummary) error {
	if err := sum.KPIs.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO run_summaries (` + runSummaryColumns + `
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23,
			$24, $25, $26, $27, $28,
			$29
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sum.RunID, sum.Label, sum.Instrument,
		sum.KPIs[domain.KPIPnLTotal], sum.KPIs[domain.KPIPnLAvg], sum.KPIs[domain.KPIPnLStd],
		sum.KPIs[domain.KPISharpeLike], sum.KPIs[domain.KPIMaxDrawdown],
		sum.KPIs[domain.KPIHitRate], sum.KPIs[domain.KPIAvgEdge], sum.KPIs[domain.KPIEdgePnLCorr],
		sum.KPIs[domain.KPIBrierMean], sum.KPIs[domain.KPILoglossMean], sum.KPIs[domain.KPIECE],
		sum.Metadata.InputHash, sum.Metadata.GeneratedAt, sum.Metadata.CodeVersion,
		sum.Metadata.CommandLine, sum.Metadata.ToolVersion,
		sum.Metadata.TotalRows, sum.Metadata.SettledRows, sum.Metadata.UnsettledRows, sum.Metadata.SkippedRows,
		sum.ConfigHash, sum.RowsCSVPath, sum.ReportMDPath, sum.SanityMDPath, sum.SanityJSONPath,
		sum.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}

// GetByRunID retrieves a summary by its run ID. Returns ErrNotFound if not exists.
func (s *RunSummaryStore) GetByRunID(ctx context.Context, runID string) (*domain.RunSummary, error) {
	query := `
		SELECT ` + runSummaryColumns + `
		FROM run_summaries
		WHERE run_id = $1
	`

	row := s.pool.QueryRow(ctx, query, runID)
	sum, err := scanRunSummary(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run summary by id: %w", err)
	}
	return sum, nil
}

// List retrieves all summaries, ordered by created_at ASC then run_id ASC.
func (s *RunSummaryStore) List(ctx context.Context) ([]*domain.RunSummary, error) {
	query := `
		SELECT ` + runSummaryColumns + `
		FROM run_summaries
		ORDER BY created_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list run summaries: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunSummary
	for rows.Next() {
		sum, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run summary row: %w", err)
		}
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summary rows: %w", err)
	}

	return out, nil
}

// scanRunSummary scans a single row into a RunSummary.
func scanRunSummary(row pgx.Row) (*domain.RunSummary, error) {
	var sum domain.RunSummary
	var pnlTotal, pnlAvg, pnlStd, sharpe, maxDD float64
	var hitRate, avgEdge, edgeCorr, brier, logloss, ece float64

	err := row.Scan(
		&sum.RunID, &sum.Label, &sum.Instrument,
		&pnlTotal, &pnlAvg, &pnlStd, &sharpe, &maxDD,
		&hitRate, &avgEdge, &edgeCorr, &brier, &logloss, &ece,
		&sum.Metadata.InputHash, &sum.Metadata.GeneratedAt, &sum.Metadata.CodeVersion,
		&sum.Metadata.CommandLine, &sum.Metadata.ToolVersion,
		&sum.Metadata.TotalRows, &sum.Metadata.SettledRows, &sum.Metadata.UnsettledRows, &sum.Metadata.SkippedRows,
		&sum.ConfigHash, &sum.RowsCSVPath, &sum.ReportMDPath, &sum.SanityMDPath, &sum.SanityJSONPath,
		&sum.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sum.Metadata.RunID = sum.RunID
	sum.Metadata.GeneratedAt = sum.Metadata.GeneratedAt.UTC()
	sum.KPIs = domain.KPIVector{
		domain.KPIPnLTotal:    pnlTotal,
		domain.KPIPnLAvg:      pnlAvg,
		domain.KPIPnLStd:      pnlStd,
		domain.KPISharpeLike:  sharpe,
		domain.KPIMaxDrawdown: maxDD,
		domain.KPIHitRate:     hitRate,
		domain.KPIAvgEdge:     avgEdge,
		domain.KPIEdgePnLCorr: edgeCorr,
		domain.KPIBrierMean:   brier,
		domain.KPILoglossMean: logloss,
		domain.KPIECE:         ece,
	}

	return &sum, nil
}
