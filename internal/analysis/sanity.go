package analysis

import (
	"time"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/domain"
)

// SanityReport bundles every diagnostic beyond the KPI vector for one run.
// Serialized as the sanity JSON artifact; the reporting package renders the
// Markdown view.
type SanityReport struct {
	RunID        string              `json:"run_id"`
	GeneratedAt  time.Time           `json:"generated_at"`
	TotalRows    int                 `json:"total_rows"`
	ChecksPassed int                 `json:"checks_passed"`
	ChecksTotal  int                 `json:"checks_total"`
	Checks       []CheckResult       `json:"checks"`
	Calibration  []CalibrationBucket `json:"calibration"`
	Edge         EdgeDiagnostics     `json:"edge_diagnostics"`
	BootstrapLo  float64             `json:"pnl_avg_ci_low"`
	BootstrapHi  float64             `json:"pnl_avg_ci_high"`
	BySide       []SideSummary       `json:"by_side"`
}

// SanityOptions contains configuration for BuildSanityReport.
type SanityOptions struct {
	// Fees is the model the run was executed with; nil means no fees.
	Fees backtest.FeeModel

	BootstrapSamples int
	BootstrapSeed    int64

	// Now supplies the report timestamp. time.Now when nil.
	Now func() time.Time
}

// BuildSanityReport runs every check and diagnostic over a run's rows.
func BuildSanityReport(runID string, rows []*domain.BacktestRow, kpis domain.KPIVector, opts SanityOptions) *SanityReport {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	samples := opts.BootstrapSamples
	if samples <= 0 {
		samples = DefaultBootstrapSamples
	}
	seed := opts.BootstrapSeed
	if seed == 0 {
		seed = DefaultBootstrapSeed
	}

	checks := RunChecks(rows, kpis, opts.Fees)
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	lo, hi := BootstrapMeanPnLCI(rows, samples, seed)

	return &SanityReport{
		RunID:        runID,
		GeneratedAt:  now().UTC(),
		TotalRows:    len(rows),
		ChecksPassed: passed,
		ChecksTotal:  len(checks),
		Checks:       checks,
		Calibration:  CalibrationTable(rows, CalibrationBuckets),
		Edge:         DiagnoseEdge(rows),
		BootstrapLo:  lo,
		BootstrapHi:  hi,
		BySide:       SummarizeBySide(rows),
	}
}
