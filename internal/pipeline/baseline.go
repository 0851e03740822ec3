package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"bracket-lab/internal/analysis"
	"bracket-lab/internal/backtest"
	"bracket-lab/internal/calendar"
	"bracket-lab/internal/compare"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/observability"
	"bracket-lab/internal/reporting"
	"bracket-lab/internal/storage"
)

// EngineVersion is recorded as the run's code version for reproducibility.
const EngineVersion = "1.0.0"

// ErrInsufficientData is returned when the preflight checks fail. The
// sufficiency report artifact is still written so the failure is inspectable.
var ErrInsufficientData = errors.New("insufficient data for baseline run")

// Artifact file names, relative to the run's output directory.
const (
	RowsCSVFile     = "rows.csv"
	ReportMDFile    = "report.md"
	SanityMDFile    = "sanity.md"
	SanityJSONFile  = "sanity.json"
	SummaryJSONFile = "summary.json"
	ComparisonFile  = "comparison.md"
	SufficiencyFile = "sufficiency.md"
)

// Baseline orchestrates one end-to-end run: enumerate, backtest, summarize,
// write artifacts, persist. Every output is a pure function of the input
// window and the injected clock and run-id source, so two runs over the same
// archive are byte-comparable.
type Baseline struct {
	enumerator   *calendar.Enumerator
	engine       *backtest.Engine
	checker      *SufficiencyChecker
	rowStore     storage.BacktestRowStore
	summaryStore storage.RunSummaryStore
	outputDir    string
	label        string
	compareRunID string
	configHash   string
	commandLine  string
	clock        func() time.Time
	newRunID     func() string
	logger       *log.Logger
}

// NewBaseline creates a baseline runner writing artifacts under outputDir.
func NewBaseline(enumerator *calendar.Enumerator, engine *backtest.Engine, outputDir string) *Baseline {
	return &Baseline{
		enumerator: enumerator,
		engine:     engine,
		outputDir:  outputDir,
		label:      "baseline",
		clock:      func() time.Time { return time.Now().UTC() },
		newRunID:   uuid.NewString,
		logger:     log.Default(),
	}
}

// WithLabel sets the label stored on the run summary.
func (b *Baseline) WithLabel(label string) *Baseline {
	b.label = label
	return b
}

// WithStores enables persistence of rows and the run summary. Either store
// may be nil to skip that side.
func (b *Baseline) WithStores(rows storage.BacktestRowStore, summaries storage.RunSummaryStore) *Baseline {
	b.rowStore = rows
	b.summaryStore = summaries
	return b
}

// WithSufficiencyChecker adds a preflight data check. A failing check aborts
// the run before any event is priced.
func (b *Baseline) WithSufficiencyChecker(checker *SufficiencyChecker) *Baseline {
	b.checker = checker
	return b
}

// WithComparison diffs the new run against a previously stored run. Requires
// a summary store.
func (b *Baseline) WithComparison(baselineRunID string) *Baseline {
	b.compareRunID = baselineRunID
	return b
}

// WithConfigHash records the SHA-256 of the config file that drove the run.
func (b *Baseline) WithConfigHash(hash string) *Baseline {
	b.configHash = hash
	return b
}

// WithCommandLine records the invocation for the reproducibility metadata.
func (b *Baseline) WithCommandLine(cmd string) *Baseline {
	b.commandLine = cmd
	return b
}

// WithClock sets a custom clock for deterministic artifact timestamps.
func (b *Baseline) WithClock(clock func() time.Time) *Baseline {
	b.clock = clock
	return b
}

// WithRunID sets a custom run-id source for deterministic runs.
func (b *Baseline) WithRunID(newRunID func() string) *Baseline {
	b.newRunID = newRunID
	return b
}

// WithLogger sets the logger.
func (b *Baseline) WithLogger(logger *log.Logger) *Baseline {
	b.logger = logger
	return b
}

// RunResult is what one baseline run produced.
type RunResult struct {
	RunID   string
	Summary *domain.RunSummary
	Rows    []*domain.BacktestRow
	Sanity  *analysis.SanityReport

	// OutputDir is where the artifacts were written.
	OutputDir string
}

// Run executes the full pipeline over trading days in [start, end] and
// writes all artifacts:
//   - rows.csv
//   - report.md
//   - sanity.md, sanity.json
//   - summary.json
//   - comparison.md (when configured)
func (b *Baseline) Run(ctx context.Context, start, end time.Time) (*RunResult, error) {
	began := time.Now()
	runID := b.newRunID()
	instrument := b.engine.Instrument()

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, err
	}

	// 1. Preflight data sufficiency. A failure writes the check table and
	// aborts before pricing anything.
	if b.checker != nil {
		suff, err := b.checker.Check(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("sufficiency check: %w", err)
		}
		if err := b.writeArtifact(SufficiencyFile, renderSufficiencyMarkdown(suff, b.clock())); err != nil {
			return nil, err
		}
		if !suff.AllPass {
			observability.RecordBacktestRun(instrument, "insufficient_data", time.Since(began).Seconds())
			return nil, fmt.Errorf("%w: %d/%d checks passed", ErrInsufficientData, suff.Passed(), len(suff.Checks))
		}
	}

	// 2. Enumerate the event sequence.
	events, err := b.enumerator.Events(ctx, start, end)
	if err != nil {
		observability.RecordBacktestRun(instrument, "error", time.Since(began).Seconds())
		return nil, fmt.Errorf("enumerating events: %w", err)
	}
	observability.RecordEventsEnumerated(len(events))

	// 3. Run the backtest.
	rows, err := b.engine.Run(ctx, runID, events)
	if err != nil {
		observability.RecordBacktestRun(instrument, "error", time.Since(began).Seconds())
		return nil, fmt.Errorf("backtest: %w", err)
	}
	for _, row := range rows {
		observability.RecordRowProduced(string(row.Action))
	}

	// 4. Summarize to the KPI vector.
	summarizer := analysis.NewSummarizer(analysis.SummarizerOptions{Now: b.clock})
	kpis, meta, err := summarizer.Summarize(rows)
	if err != nil {
		observability.RecordBacktestRun(instrument, "error", time.Since(began).Seconds())
		return nil, fmt.Errorf("summarizing run %s: %w", runID, err)
	}
	meta.RunID = runID
	meta.CodeVersion = EngineVersion
	meta.CommandLine = b.commandLine

	summary := &domain.RunSummary{
		RunID:          runID,
		Label:          b.label,
		Instrument:     instrument,
		KPIs:           kpis,
		Metadata:       meta,
		ConfigHash:     b.configHash,
		RowsCSVPath:    RowsCSVFile,
		ReportMDPath:   ReportMDFile,
		SanityMDPath:   SanityMDFile,
		SanityJSONPath: SanityJSONFile,
		CreatedAt:      b.clock().Unix(),
	}

	// 5. Write rows.csv.
	if err := b.writeArtifact(RowsCSVFile, reporting.RenderRowsCSV(rows)); err != nil {
		return nil, err
	}

	// 6. Write report.md.
	report := &reporting.RunReport{
		Summary: summary,
		RuleID:  b.engine.Rule().ID(),
		FeeID:   b.engine.Fees().ID(),
		Events:  len(events),
	}
	if err := b.writeArtifact(ReportMDFile, reporting.RenderRunMarkdown(report)); err != nil {
		return nil, err
	}

	// 7. Sanity checks and diagnostics, Markdown and JSON.
	sanity := analysis.BuildSanityReport(runID, rows, kpis, analysis.SanityOptions{
		Fees: b.engine.Fees(),
		Now:  b.clock,
	})
	if err := b.writeArtifact(SanityMDFile, reporting.RenderSanityMarkdown(sanity)); err != nil {
		return nil, err
	}
	sanityJSON, err := json.MarshalIndent(sanity, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := b.writeArtifact(SanityJSONFile, string(sanityJSON)); err != nil {
		return nil, err
	}

	// 8. Write summary.json.
	summaryJSON, err := json.MarshalIndent(newSummaryJSON(summary), "", "  ")
	if err != nil {
		return nil, err
	}
	if err := b.writeArtifact(SummaryJSONFile, string(summaryJSON)); err != nil {
		return nil, err
	}

	// 9. Optional comparison against a stored run.
	if b.compareRunID != "" {
		if b.summaryStore == nil {
			return nil, fmt.Errorf("comparison against %s requires a summary store", b.compareRunID)
		}
		base, err := b.summaryStore.GetByRunID(ctx, b.compareRunID)
		if err != nil {
			return nil, fmt.Errorf("loading comparison baseline %s: %w", b.compareRunID, err)
		}
		rep, err := compare.Compare(base.KPIs, kpis)
		if err != nil {
			return nil, fmt.Errorf("comparing %s vs %s: %w", base.RunID, runID, err)
		}
		rep.BaselineLabel = base.RunID
		rep.CandidateLabel = runID
		if err := b.writeArtifact(ComparisonFile, reporting.RenderComparisonMarkdown(rep)); err != nil {
			return nil, err
		}
	}

	// 10. Persist rows and summary.
	if b.rowStore != nil {
		if err := b.rowStore.InsertBulk(ctx, rows); err != nil {
			observability.RecordBacktestRun(instrument, "error", time.Since(began).Seconds())
			return nil, fmt.Errorf("persisting rows for run %s: %w", runID, err)
		}
	}
	if b.summaryStore != nil {
		if err := b.summaryStore.Insert(ctx, summary); err != nil {
			observability.RecordBacktestRun(instrument, "error", time.Since(began).Seconds())
			return nil, fmt.Errorf("persisting summary for run %s: %w", runID, err)
		}
	}

	observability.RecordBacktestRun(instrument, "success", time.Since(began).Seconds())
	b.logger.Printf("run %s: %d events, %d rows, artifacts in %s", runID, len(events), len(rows), b.outputDir)

	return &RunResult{
		RunID:     runID,
		Summary:   summary,
		Rows:      rows,
		Sanity:    sanity,
		OutputDir: b.outputDir,
	}, nil
}

func (b *Baseline) writeArtifact(name, content string) error {
	path := filepath.Join(b.outputDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// summaryJSON is the serialized form of a RunSummary for the summary.json
// artifact. Field names match the CSV and Markdown artifacts.
type summaryJSON struct {
	RunID       string             `json:"run_id"`
	Label       string             `json:"label"`
	Instrument  string             `json:"instrument"`
	KPIs        map[string]float64 `json:"kpis"`
	InputHash   string             `json:"input_hash"`
	ConfigHash  string             `json:"config_hash,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
	CodeVersion string             `json:"code_version"`
	CommandLine string             `json:"command_line,omitempty"`
	ToolVersion string             `json:"tool_version"`

	TotalRows     int `json:"total_rows"`
	SettledRows   int `json:"settled_rows"`
	UnsettledRows int `json:"unsettled_rows"`
	SkippedRows   int `json:"skipped_rows"`

	RowsCSVPath    string `json:"rows_csv_path"`
	ReportMDPath   string `json:"report_md_path"`
	SanityMDPath   string `json:"sanity_md_path"`
	SanityJSONPath string `json:"sanity_json_path"`
}

func newSummaryJSON(s *domain.RunSummary) summaryJSON {
	return summaryJSON{
		RunID:          s.RunID,
		Label:          s.Label,
		Instrument:     s.Instrument,
		KPIs:           s.KPIs,
		InputHash:      s.Metadata.InputHash,
		ConfigHash:     s.ConfigHash,
		GeneratedAt:    s.Metadata.GeneratedAt,
		CodeVersion:    s.Metadata.CodeVersion,
		CommandLine:    s.Metadata.CommandLine,
		ToolVersion:    s.Metadata.ToolVersion,
		TotalRows:      s.Metadata.TotalRows,
		SettledRows:    s.Metadata.SettledRows,
		UnsettledRows:  s.Metadata.UnsettledRows,
		SkippedRows:    s.Metadata.SkippedRows,
		RowsCSVPath:    s.RowsCSVPath,
		ReportMDPath:   s.ReportMDPath,
		SanityMDPath:   s.SanityMDPath,
		SanityJSONPath: s.SanityJSONPath,
	}
}

// ParseSummaryJSON reads a summary.json artifact back into a RunSummary.
// Used by cmd/compare to diff file-based runs without a database.
func ParseSummaryJSON(raw []byte) (*domain.RunSummary, error) {
	var sj summaryJSON
	if err := json.Unmarshal(raw, &sj); err != nil {
		return nil, err
	}
	return &domain.RunSummary{
		RunID:      sj.RunID,
		Label:      sj.Label,
		Instrument: sj.Instrument,
		KPIs:       domain.KPIVector(sj.KPIs),
		Metadata: domain.RunMetadata{
			RunID:         sj.RunID,
			InputHash:     sj.InputHash,
			GeneratedAt:   sj.GeneratedAt,
			CodeVersion:   sj.CodeVersion,
			CommandLine:   sj.CommandLine,
			ToolVersion:   sj.ToolVersion,
			TotalRows:     sj.TotalRows,
			SettledRows:   sj.SettledRows,
			UnsettledRows: sj.UnsettledRows,
			SkippedRows:   sj.SkippedRows,
		},
		ConfigHash:     sj.ConfigHash,
		RowsCSVPath:    sj.RowsCSVPath,
		ReportMDPath:   sj.ReportMDPath,
		SanityMDPath:   sj.SanityMDPath,
		SanityJSONPath: sj.SanityJSONPath,
	}, nil
}
