package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	pgstore "bracket-lab/internal/storage/postgres"
	"bracket-lab/internal/verification"
)

func main() {
	_ = godotenv.Load()

	runID := flag.String("run-id", "", "Run ID to verify")
	all := flag.Bool("all", false, "Verify every stored run")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	if *runID == "" && !*all {
		logger.Fatal("--run-id or --all is required")
	}
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	verifier := verification.NewVerifier(verification.VerifierOptions{
		Rows:      pgstore.NewBacktestRowStore(pool),
		Summaries: pgstore.NewRunSummaryStore(pool),
		Logger:    logger,
	})

	if *all {
		report, err := verifier.VerifyAll(ctx)
		if err != nil {
			logger.Fatalf("verify all: %v", err)
		}
		if *outputJSON {
			printJSON(report)
		} else {
			printReport(report)
		}
		if report.DivergentRuns > 0 {
			os.Exit(1)
		}
		return
	}

	result, err := verifier.VerifyRun(ctx, *runID)
	if err != nil {
		logger.Fatalf("verify run %s: %v", *runID, err)
	}
	if *outputJSON {
		printJSON(result)
	} else {
		printResult(result)
	}
	if !result.Match {
		os.Exit(1)
	}
}

func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}

func printResult(r *verification.RunResult) {
	status := "MATCH"
	if !r.Match {
		status = "DIVERGED"
	}
	fmt.Printf("%s  %s  (%d rows)\n", status, r.RunID, r.Rows)
	for _, d := range r.Divergences {
		fmt.Printf("  %-20s expected=%v actual=%v\n", d.Field, d.Expected, d.Actual)
	}
}

func printReport(rep *verification.Report) {
	for i := range rep.Results {
		printResult(&rep.Results[i])
	}
	fmt.Println()
	fmt.Printf("Verified %d runs: %d matched, %d diverged\n",
		rep.TotalRuns, rep.MatchedRuns, rep.DivergentRuns)
}
