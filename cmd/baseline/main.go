package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/calendar"
	"bracket-lab/internal/candles"
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

	configPath := flag.String("config", "", "YAML run config (required)")
	outputDir := flag.String("output-dir", "", "Override the config's output directory")
	series := flag.String("series", "", "Venue series ticker; contracts come from live listings instead of the archive")
	baseURL := flag.String("base-url", os.Getenv("KALSHI_BASE_URL"), "Venue REST base URL")

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (rows and summaries)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (candle archive)")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite file for the candle archive, alternative to ClickHouse")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	seedFixtures := flag.Bool("seed-fixtures", false, "Seed a deterministic synthetic candle history before the run")

	flag.Parse()

	logger := log.New(os.Stderr, "[baseline] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	cfg, configHash, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, cancelling run...", sig)
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

	start, end, err := cfg.Window()
	if err != nil {
		logger.Fatalf("config window: %v", err)
	}

	if *seedFixtures {
		seedStart := start.AddDate(0, 0, -(cfg.LookbackDays + 1))
		seedDays := int(end.Sub(seedStart).Hours()/24) + cfg.HorizonTradingDays + 2
		if err := pipeline.SeedCandles(ctx, candleStore, cfg.Instrument, seedStart, seedDays); err != nil {
			logger.Fatalf("seed fixtures: %v", err)
		}
		logger.Printf("Seeded %d days of synthetic candles for %s", seedDays, cfg.Instrument)
	}

	var provider calendar.ContractProvider
	if *series != "" {
		client := kalshi.NewClient(*baseURL, venueOptions(logger)...)
		provider = kalshi.NewContractProvider(client, *series)
	} else {
		provider = pipeline.FixtureProvider(candleStore, cfg.Instrument, pipeline.FixtureLadderW, pipeline.FixtureRungs)
	}

	cal, err := cfg.TradingCalendar()
	if err != nil {
		logger.Fatal(err)
	}
	offset, err := cfg.DecisionTimeOffset()
	if err != nil {
		logger.Fatal(err)
	}
	rule, err := cfg.DecisionRule()
	if err != nil {
		logger.Fatal(err)
	}
	fees, err := cfg.FeeModel()
	if err != nil {
		logger.Fatal(err)
	}

	enumerator := calendar.NewEnumerator(calendar.EnumeratorOptions{
		Instrument:   cfg.Instrument,
		Calendar:     cal,
		Provider:     provider,
		DecisionTime: offset,
		Horizon:      cfg.HorizonTradingDays,
	})

	engine := backtest.NewEngine(backtest.EngineOptions{
		Cache: candles.NewCache(candles.CacheOptions{Source: candleStore, Logger: logger}),
		Estimator: estimator.NewEmpirical(estimator.EmpiricalOptions{
			GranularityMinutes: cfg.Granularity(),
			MinSamples:         cfg.MinSamples,
		}),
		Rule:               rule,
		Fees:               fees,
		Instrument:         cfg.Instrument,
		GranularityMinutes: cfg.Granularity(),
		LookbackDays:       cfg.LookbackDays,
		Logger:             logger,
	})

	dir := cfg.OutputDir
	if *outputDir != "" {
		dir = *outputDir
	}
	if dir == "" {
		dir = "out"
	}

	checker := pipeline.NewSufficiencyChecker(pipeline.SufficiencyOptions{
		Store:              candleStore,
		Instrument:         cfg.Instrument,
		GranularityMinutes: cfg.Granularity(),
		LookbackDays:       cfg.LookbackDays,
		MinReference:       cfg.MinSamples,
	})

	baseline := pipeline.NewBaseline(enumerator, engine, dir).
		WithLabel(cfg.Label).
		WithStores(rowStore, summaryStore).
		WithSufficiencyChecker(checker).
		WithConfigHash(configHash).
		WithCommandLine(strings.Join(os.Args, " ")).
		WithLogger(logger)
	if cfg.CompareRunID != "" {
		baseline = baseline.WithComparison(cfg.CompareRunID)
	}

	logger.Printf("Running baseline %q: instrument=%s window=[%s, %s] config=%s",
		cfg.Label, cfg.Instrument, cfg.Start, cfg.End, configHash[:12])

	result, err := baseline.Run(ctx, start, end)
	if errors.Is(err, pipeline.ErrInsufficientData) {
		logger.Printf("insufficient data, see %s", filepath.Join(dir, pipeline.SufficiencyFile))
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("baseline run failed: %v", err)
	}

	fmt.Println("Baseline run completed:")
	fmt.Printf("  Run ID:     %s\n", result.RunID)
	fmt.Printf("  Rows:       %d\n", result.Summary.Metadata.TotalRows)
	fmt.Printf("  Input hash: %s\n", result.Summary.Metadata.InputHash)
	for _, name := range []string{
		pipeline.RowsCSVFile,
		pipeline.ReportMDFile,
		pipeline.SanityMDFile,
		pipeline.SanityJSONFile,
		pipeline.SummaryJSONFile,
	} {
		fmt.Printf("  - %s\n", filepath.Join(dir, name))
	}
	if cfg.CompareRunID != "" {
		fmt.Printf("  - %s\n", filepath.Join(dir, pipeline.ComparisonFile))
	}
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
