// Package verification re-derives stored run summaries from their persisted
// rows and reports any field that no longer matches. A clean verification
// means the summary, the rows and the summarizer code still agree.
package verification

import (
	"context"
	"fmt"
	"log"
	"math"

	"bracket-lab/internal/analysis"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/idhash"
	"bracket-lab/internal/storage"
)

// FloatTolerance is the tolerance for float64 comparisons. KPI values are
// re-derived through the identical code path, so anything beyond rounding
// noise is a real divergence.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and re-derived values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // re-derived value
}

// RunResult contains the result of verifying a single run.
type RunResult struct {
	RunID       string            // verified run ID
	Match       bool              // true if all fields match
	Rows        int               // rows loaded for the run
	Divergences []FieldDivergence // list of divergent fields
}

// Report contains results for batch verification.
type Report struct {
	TotalRuns     int         // total runs verified
	MatchedRuns   int         // runs that matched exactly
	DivergentRuns int         // runs with divergences
	Results       []RunResult // individual results, in store order
}

// Verifier re-summarizes stored rows and compares the outcome against the
// persisted run summary.
type Verifier struct {
	rows      storage.BacktestRowStore
	summaries storage.RunSummaryStore
	logger    *log.Logger
}

// VerifierOptions contains configuration for creating a Verifier.
type VerifierOptions struct {
	Rows      storage.BacktestRowStore
	Summaries storage.RunSummaryStore
	Logger    *log.Logger
}

// NewVerifier creates a verifier over the given stores.
func NewVerifier(opts VerifierOptions) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{
		rows:      opts.Rows,
		summaries: opts.Summaries,
		logger:    logger,
	}
}

// VerifyRun verifies a single stored run: loads its summary and rows,
// recomputes the input hash and KPI vector, and compares field by field.
func (v *Verifier) VerifyRun(ctx context.Context, runID string) (*RunResult, error) {
	summary, err := v.summaries.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading summary %s: %w", runID, err)
	}
	rows, err := v.rows.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading rows %s: %w", runID, err)
	}

	result := &RunResult{RunID: runID, Rows: len(rows)}

	if len(rows) == 0 {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "rows",
			Expected: summary.Metadata.TotalRows,
			Actual:   0,
		})
		return result, nil
	}

	// Seq must be the contiguous emission order or the hash covers a
	// different sequence than the one summarized.
	for i, row := range rows {
		if row.Seq != i {
			result.Divergences = append(result.Divergences, FieldDivergence{
				Field:    fmt.Sprintf("rows[%d].seq", i),
				Expected: i,
				Actual:   row.Seq,
			})
			return result, nil
		}
	}

	inputHash := idhash.ComputeInputHash(rows)
	if inputHash != summary.Metadata.InputHash {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "input_hash",
			Expected: summary.Metadata.InputHash,
			Actual:   inputHash,
		})
	}

	summarizer := analysis.NewSummarizer(analysis.SummarizerOptions{})
	kpis, meta, err := summarizer.Summarize(rows)
	if err != nil {
		return nil, fmt.Errorf("re-summarizing %s: %w", runID, err)
	}

	for _, key := range domain.KPIKeys {
		stored, ok := summary.KPIs[key]
		if !ok {
			result.Divergences = append(result.Divergences, FieldDivergence{
				Field:    "kpi." + key,
				Expected: nil,
				Actual:   kpis[key],
			})
			continue
		}
		if !floatEquals(stored, kpis[key]) {
			result.Divergences = append(result.Divergences, FieldDivergence{
				Field:    "kpi." + key,
				Expected: stored,
				Actual:   kpis[key],
			})
		}
	}

	if summary.Metadata.TotalRows != meta.TotalRows {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "total_rows",
			Expected: summary.Metadata.TotalRows,
			Actual:   meta.TotalRows,
		})
	}
	if summary.Metadata.SettledRows != meta.SettledRows {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "settled_rows",
			Expected: summary.Metadata.SettledRows,
			Actual:   meta.SettledRows,
		})
	}
	if summary.Metadata.UnsettledRows != meta.UnsettledRows {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "unsettled_rows",
			Expected: summary.Metadata.UnsettledRows,
			Actual:   meta.UnsettledRows,
		})
	}
	if summary.Metadata.SkippedRows != meta.SkippedRows {
		result.Divergences = append(result.Divergences, FieldDivergence{
			Field:    "skipped_rows",
			Expected: summary.Metadata.SkippedRows,
			Actual:   meta.SkippedRows,
		})
	}

	result.Match = len(result.Divergences) == 0
	return result, nil
}

// VerifyAll verifies every stored run, in store order.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	summaries, err := v.summaries.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	report := &Report{TotalRuns: len(summaries)}
	for _, summary := range summaries {
		result, err := v.VerifyRun(ctx, summary.RunID)
		if err != nil {
			return nil, err
		}
		if result.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
			v.logger.Printf("run %s: %d divergences", result.RunID, len(result.Divergences))
		}
		report.Results = append(report.Results, *result)
	}
	return report, nil
}

// floatEquals compares two float64 values within FloatTolerance. NaN equals
// NaN so an undefined correlation does not diverge against itself.
func floatEquals(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance
}
