package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"bracket-lab/internal/compare"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/pipeline"
	"bracket-lab/internal/reporting"
	pgstore "bracket-lab/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	baselineRun := flag.String("baseline-run", "", "Stored run ID of the baseline")
	candidateRun := flag.String("candidate-run", "", "Stored run ID of the candidate")
	baselineFile := flag.String("baseline-file", "", "summary.json of the baseline (alternative to --baseline-run)")
	candidateFile := flag.String("candidate-file", "", "summary.json of the candidate (alternative to --candidate-run)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (required for stored runs)")
	outputPath := flag.String("output", "", "Write the Markdown comparison to this file")

	flag.Parse()

	logger := log.New(os.Stderr, "[compare] ", log.LstdFlags)
	ctx := context.Background()

	fromStore := *baselineRun != "" || *candidateRun != ""
	fromFiles := *baselineFile != "" || *candidateFile != ""
	if fromStore == fromFiles {
		logger.Fatal("name both runs either by stored ID (--baseline-run, --candidate-run) or by file (--baseline-file, --candidate-file)")
	}

	var base, cand *domain.RunSummary
	if fromStore {
		if *baselineRun == "" || *candidateRun == "" {
			logger.Fatal("--baseline-run and --candidate-run are both required")
		}
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required for stored runs")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		store := pgstore.NewRunSummaryStore(pool)
		if base, err = store.GetByRunID(ctx, *baselineRun); err != nil {
			logger.Fatalf("load baseline run %s: %v", *baselineRun, err)
		}
		if cand, err = store.GetByRunID(ctx, *candidateRun); err != nil {
			logger.Fatalf("load candidate run %s: %v", *candidateRun, err)
		}
	} else {
		if *baselineFile == "" || *candidateFile == "" {
			logger.Fatal("--baseline-file and --candidate-file are both required")
		}
		var err error
		if base, err = loadSummaryFile(*baselineFile); err != nil {
			logger.Fatal(err)
		}
		if cand, err = loadSummaryFile(*candidateFile); err != nil {
			logger.Fatal(err)
		}
	}

	report, err := compare.Compare(base.KPIs, cand.KPIs)
	if err != nil {
		logger.Fatalf("compare: %v", err)
	}
	report.BaselineLabel = runLabel(base)
	report.CandidateLabel = runLabel(cand)

	printComparison(report)

	if *outputPath != "" {
		md := reporting.RenderComparisonMarkdown(report)
		if err := os.WriteFile(*outputPath, []byte(md), 0o644); err != nil {
			logger.Fatalf("write %s: %v", *outputPath, err)
		}
		fmt.Printf("\nWrote %s\n", *outputPath)
	}
}

// loadSummaryFile reads a run's summary.json artifact.
func loadSummaryFile(path string) (*domain.RunSummary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := pipeline.ParseSummaryJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// runLabel identifies a run in the report header, preferring the
// caller-assigned label.
func runLabel(s *domain.RunSummary) string {
	if s.Label != "" && s.Label != s.RunID {
		return fmt.Sprintf("%s (%s)", s.Label, s.RunID)
	}
	return s.RunID
}

// printComparison writes the per-KPI delta table to stdout.
func printComparison(r *compare.ComparisonReport) {
	fmt.Printf("Baseline:  %s\n", r.BaselineLabel)
	fmt.Printf("Candidate: %s\n", r.CandidateLabel)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("KPI", "Baseline", "Candidate", "Delta", "Delta %")
	for _, row := range r.Rows {
		pct := "n/a"
		if row.PctValid {
			pct = fmt.Sprintf("%+.2f%%", row.PctDelta*100)
		}
		table.Append(
			row.Key,
			fmt.Sprintf("%.6f", row.Baseline),
			fmt.Sprintf("%.6f", row.Candidate),
			fmt.Sprintf("%+.6f", row.AbsDelta),
			pct,
		)
	}
	table.Render()
}
