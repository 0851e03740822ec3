package domain

import "time"

// RunMetadata makes a summarized run reproducible and comparable: two runs
// over byte-identical row sequences produce the same InputHash regardless of
// when they were generated.
type RunMetadata struct {
	RunID       string    // unique run identifier (UUID)
	InputHash   string    // SHA-256 hex of the canonical row serialization
	GeneratedAt time.Time // summarization wall-clock time (UTC)
	CodeVersion string    // engine version constant
	CommandLine string    // invocation that produced the run
	ToolVersion string    // Go runtime version the run was built with

	// Data quality counts. UnsettledRows are excluded from settled metrics
	// but reported here, never silently dropped.
	TotalRows     int
	SettledRows   int
	UnsettledRows int
	SkippedRows   int
}

// RunSummary is the persisted record of one backtest run: its KPI vector,
// reproducibility metadata and artifact locations.
// Corresponds to the run_summaries table in PostgreSQL.
type RunSummary struct {
	RunID      string      // PRIMARY KEY
	Label      string      // caller-assigned name, e.g. "baseline"
	Instrument string      // underlying instrument the run covered
	KPIs       KPIVector   // the canonical metric set
	Metadata   RunMetadata // reproducibility metadata
	ConfigHash string      // SHA-256 hex of the run's config file, "" when flag-driven

	// Artifact paths, relative to the run's output directory.
	RowsCSVPath    string
	ReportMDPath   string
	SanityMDPath   string
	SanityJSONPath string

	CreatedAt int64 // record creation timestamp, Unix seconds
}
