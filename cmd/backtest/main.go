package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/calendar"
	"bracket-lab/internal/candles"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/estimator"
	"bracket-lab/internal/kalshi"
	"bracket-lab/internal/pipeline"
	"bracket-lab/internal/storage"
	chstore "bracket-lab/internal/storage/clickhouse"
	"bracket-lab/internal/storage/memory"
	pgstore "bracket-lab/internal/storage/postgres"
	sqlstore "bracket-lab/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	// Run window and instrument
	instrument := flag.String("instrument", "", "Underlying instrument, e.g. INXD (required)")
	startDate := flag.String("start", "", "First trading day, YYYY-MM-DD (required)")
	endDate := flag.String("end", "", "Last trading day, YYYY-MM-DD (required)")

	// Engine parameters
	lookbackDays := flag.Int("lookback-days", backtest.DefaultLookbackDays, "Reference window length in days")
	minSamples := flag.Int("min-samples", estimator.DefaultMinSamples, "Minimum reference moves for a confident estimate")
	granularity := flag.Int("granularity-minutes", domain.GranularityDay, "Candle granularity in minutes")
	calName := flag.String("calendar", "WEEKDAYS", "Trading calendar: WEEKDAYS, EVERY_DAY, WEEKLY")
	weeklyDay := flag.Int("weekly-weekday", 5, "Weekday for the WEEKLY calendar (0 = Sunday)")
	horizon := flag.Int("horizon", calendar.DefaultHorizonTradingDays, "Trading days between run and settlement")
	decisionTime := flag.String("decision-time", "", "Decision time of day, HH:MM UTC (default midnight)")

	// Rule and fee parameters
	minEdge := flag.Float64("min-edge", 0.05, "Minimum edge for a BUY decision")
	size := flag.Float64("size", 1.0, "Contracts per BUY")
	skipLowConf := flag.Bool("skip-low-confidence", true, "SKIP contracts with low-confidence estimates")
	feeType := flag.String("fee-type", backtest.FeeTypeNone, "Fee model: NONE, FLAT, VENUE")
	feePerContract := flag.Float64("fee-per-contract", 0, "Per-contract fee for FLAT")
	feeRate := flag.Float64("fee-rate", backtest.DefaultVenueFeeRate, "Rate for VENUE")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (rows and summaries)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (candle archive)")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite file for the candle archive, alternative to ClickHouse")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Contract source
	series := flag.String("series", "", "Venue series ticker; contracts come from live listings instead of the archive")
	baseURL := flag.String("base-url", os.Getenv("KALSHI_BASE_URL"), "Venue REST base URL")

	// Data seeding (memory and sqlite convenience)
	seedFixtures := flag.Bool("seed-fixtures", false, "Seed a deterministic synthetic candle history before the run")

	// Run identity and output
	label := flag.String("label", "backtest", "Run label recorded on the summary")
	compareRun := flag.String("compare-run", "", "Stored run ID to diff this run against")
	outputDir := flag.String("output-dir", "out", "Directory for run artifacts")
	skipSufficiency := flag.Bool("skip-sufficiency", false, "Skip the preflight data sufficiency gate")
	outputJSON := flag.Bool("json", false, "Print the run summary as JSON instead of a table")

	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *instrument == "" {
		logger.Fatal("--instrument is required")
	}
	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		logger.Fatalf("parse --start: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		logger.Fatalf("parse --end: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Candle archive
	var candleStore storage.CandleStore = memory.NewCandleStore()
	switch {
	case *useMemory:
		if !*seedFixtures && *series == "" {
			logger.Fatal("--use-memory requires --seed-fixtures (the archive starts empty)")
		}
	case *sqlitePath != "":
		st, err := sqlstore.NewCandleStore(ctx, *sqlitePath)
		if err != nil {
			logger.Fatalf("open sqlite archive: %v", err)
		}
		defer st.Close()
		candleStore = st
	case *clickhouseDSN != "":
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		candleStore = chstore.NewCandleStore(conn)
	default:
		logger.Fatal("one of --use-memory, --sqlite-path or --clickhouse-dsn is required")
	}

	// Rows and summaries persist only when postgres is configured; artifacts
	// are written either way.
	var rowStore storage.BacktestRowStore = memory.NewBacktestRowStore()
	var summaryStore storage.RunSummaryStore = memory.NewRunSummaryStore()
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		rowStore = pgstore.NewBacktestRowStore(pool)
		summaryStore = pgstore.NewRunSummaryStore(pool)
	}

	if *seedFixtures {
		seedStart := start.AddDate(0, 0, -(*lookbackDays + 1))
		seedDays := int(end.Sub(seedStart).Hours()/24) + *horizon + 2
		if err := pipeline.SeedCandles(ctx, candleStore, *instrument, seedStart, seedDays); err != nil {
			logger.Fatalf("seed fixtures: %v", err)
		}
		logger.Printf("Seeded %d days of synthetic candles for %s", seedDays, *instrument)
	}

	// Contract provider: live venue listings when a series is named,
	// otherwise a synthetic ladder around the archived close.
	var provider calendar.ContractProvider
	if *series != "" {
		client := kalshi.NewClient(*baseURL, venueOptions(logger)...)
		provider = kalshi.NewContractProvider(client, *series)
	} else {
		provider = pipeline.FixtureProvider(candleStore, *instrument, pipeline.FixtureLadderW, pipeline.FixtureRungs)
	}

	cal, err := calendarByName(*calName, *weeklyDay)
	if err != nil {
		logger.Fatal(err)
	}
	offset, err := decisionOffset(*decisionTime)
	if err != nil {
		logger.Fatalf("parse --decision-time: %v", err)
	}

	enumerator := calendar.NewEnumerator(calendar.EnumeratorOptions{
		Instrument:   *instrument,
		Calendar:     cal,
		Provider:     provider,
		DecisionTime: offset,
		Horizon:      *horizon,
	})

	fees, err := backtest.FeeFromConfig(backtest.FeeConfig{
		FeeType:     *feeType,
		PerContract: *feePerContract,
		Rate:        *feeRate,
	})
	if err != nil {
		logger.Fatal(err)
	}

	engine := backtest.NewEngine(backtest.EngineOptions{
		Cache: candles.NewCache(candles.CacheOptions{Source: candleStore, Logger: logger}),
		Estimator: estimator.NewEmpirical(estimator.EmpiricalOptions{
			GranularityMinutes: *granularity,
			MinSamples:         *minSamples,
		}),
		Rule:               backtest.NewEdgeThresholdRule(*minEdge, *size, *skipLowConf),
		Fees:               fees,
		Instrument:         *instrument,
		GranularityMinutes: *granularity,
		LookbackDays:       *lookbackDays,
		Logger:             logger,
	})

	baseline := pipeline.NewBaseline(enumerator, engine, *outputDir).
		WithLabel(*label).
		WithStores(rowStore, summaryStore).
		WithCommandLine(strings.Join(os.Args, " ")).
		WithLogger(logger)

	if !*skipSufficiency {
		baseline = baseline.WithSufficiencyChecker(pipeline.NewSufficiencyChecker(pipeline.SufficiencyOptions{
			Store:              candleStore,
			Instrument:         *instrument,
			GranularityMinutes: *granularity,
			LookbackDays:       *lookbackDays,
			MinReference:       *minSamples,
		}))
	}
	if *compareRun != "" {
		baseline = baseline.WithComparison(*compareRun)
	}

	logger.Printf("Running backtest: instrument=%s window=[%s, %s] rule=%s fees=%s",
		*instrument, *startDate, *endDate, engine.Rule().ID(), engine.Fees().ID())

	result, err := baseline.Run(ctx, start, end)
	if errors.Is(err, pipeline.ErrInsufficientData) {
		logger.Printf("insufficient data, see %s/%s", *outputDir, pipeline.SufficiencyFile)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(result.Summary, "", "  ")
		fmt.Println(string(output))
		return
	}
	printSummary(result)
}

// venueOptions attaches a request signer when API credentials are present
// in the environment. Market data works unsigned.
func venueOptions(logger *log.Logger) []kalshi.ClientOption {
	keyID := os.Getenv("KALSHI_API_KEY_ID")
	keyPath := os.Getenv("KALSHI_PRIVATE_KEY_PATH")
	if keyID == "" || keyPath == "" {
		return nil
	}
	signer, err := kalshi.NewSignerFromFile(keyID, keyPath)
	if err != nil {
		logger.Fatalf("load venue credentials: %v", err)
	}
	return []kalshi.ClientOption{kalshi.WithSigner(signer)}
}

// calendarByName maps a calendar flag value to a TradingCalendar.
func calendarByName(name string, weeklyDay int) (calendar.TradingCalendar, error) {
	switch strings.ToUpper(name) {
	case "", "WEEKDAYS":
		return calendar.NewWeekdays(), nil
	case "EVERY_DAY":
		return calendar.EveryDay{}, nil
	case "WEEKLY":
		return calendar.Weekly{Day: time.Weekday(weeklyDay)}, nil
	default:
		return nil, fmt.Errorf("unknown calendar %q, must be WEEKDAYS, EVERY_DAY or WEEKLY", name)
	}
}

// decisionOffset parses an HH:MM time of day into an offset from midnight.
func decisionOffset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// printSummary outputs the run identity, the KPI table and artifact paths.
func printSummary(result *pipeline.RunResult) {
	s := result.Summary

	fmt.Println()
	fmt.Println("=== Backtest Summary ===")
	fmt.Printf("Run ID:       %s\n", s.RunID)
	fmt.Printf("Label:        %s\n", s.Label)
	fmt.Printf("Instrument:   %s\n", s.Instrument)
	fmt.Printf("Rows:         %d (settled %d, unsettled %d, skipped %d)\n",
		s.Metadata.TotalRows, s.Metadata.SettledRows, s.Metadata.UnsettledRows, s.Metadata.SkippedRows)
	fmt.Printf("Input hash:   %s\n", s.Metadata.InputHash)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("KPI", "Value")
	for _, key := range domain.KPIKeys {
		table.Append(key, fmt.Sprintf("%.6f", s.KPIs[key]))
	}
	table.Render()

	fmt.Println()
	fmt.Printf("Artifacts in %s: %s, %s, %s, %s\n",
		result.OutputDir, pipeline.RowsCSVFile, pipeline.ReportMDFile, pipeline.SanityMDFile, pipeline.SummaryJSONFile)
}
