// Package main provides the unified service that runs all components
// together: candle ingestion (continuous), the baseline backtest pipeline
// (scheduled) and the health/metrics/status HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/calendar"
	"bracket-lab/internal/candles"
	"bracket-lab/internal/estimator"
	"bracket-lab/internal/ingestion"
	"bracket-lab/internal/kalshi"
	"bracket-lab/internal/observability"
	"bracket-lab/internal/pipeline"
	"bracket-lab/internal/storage"
	chstore "bracket-lab/internal/storage/clickhouse"
	"bracket-lab/internal/storage/memory"
	pgstore "bracket-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	cfg              *pipeline.Config
	configHash       string
	baseURL          string
	wsURL            string
	series           string
	followTickers    []string
	outputDir        string
	windowDays       int
	archiveInterval  time.Duration
	baselineInterval time.Duration
	signer           *kalshi.Signer

	// Stores
	stores *allStores

	logger *log.Logger

	// State
	mu              sync.Mutex
	started         time.Time
	lastArchiveRun  time.Time
	lastBaselineRun time.Time
	lastRunID       string
	archiveRunning  bool
	baselineRunning bool

	// Stats
	archiveRuns  int
	baselineRuns int
	runErrors    int
}

// allStores holds all storage implementations.
type allStores struct {
	candleStore  storage.CandleStore
	rowStore     storage.BacktestRowStore
	summaryStore storage.RunSummaryStore
}

func main() {
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("BASELINE_CONFIG"), "YAML run config (required)")
	baseURL := flag.String("base-url", os.Getenv("KALSHI_BASE_URL"), "Venue REST base URL")
	wsURL := flag.String("ws-url", os.Getenv("KALSHI_WS_URL"), "Venue WebSocket URL (enables follow ingestion)")
	series := flag.String("series", os.Getenv("KALSHI_SERIES"), "Venue series ticker for live contract listings")
	followTickers := flag.String("follow-tickers", "", "Comma-separated market tickers for live candle ingestion")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of databases")
	outputDir := flag.String("output-dir", "output", "Root directory for run artifacts")
	windowDays := flag.Int("window-days", 30, "Rolling backtest window length in days")
	archiveInterval := flag.Duration("archive-interval", 1*time.Hour, "Candle backfill interval")
	baselineInterval := flag.Duration("baseline-interval", 24*time.Hour, "Baseline pipeline interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	cfg, configHash, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	server := &Server{
		cfg:              cfg,
		configHash:       configHash,
		baseURL:          *baseURL,
		wsURL:            *wsURL,
		series:           *series,
		followTickers:    splitTickers(*followTickers),
		outputDir:        *outputDir,
		windowDays:       *windowDays,
		archiveInterval:  *archiveInterval,
		baselineInterval: *baselineInterval,
		signer:           loadSigner(logger),
		stores:           stores,
		logger:           logger,
		started:          time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	go server.startHTTPServer(*metricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			candleStore:  memory.NewCandleStore(),
			rowStore:     memory.NewBacktestRowStore(),
			summaryStore: memory.NewRunSummaryStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL for rows and summaries
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse for the candle archive
	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		candleStore:  chstore.NewCandleStore(chConn),
		rowStore:     pgstore.NewBacktestRowStore(pool),
		summaryStore: pgstore.NewRunSummaryStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run starts the unified server with all components.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	errCh := make(chan error, 3)

	// Live candle ingestion, only when a feed is configured
	if s.wsURL != "" && len(s.followTickers) > 0 {
		go func() {
			err := s.runFollowIngestion(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("follow ingestion: %w", err)
			}
		}()
	}

	// Periodic history backfill
	go func() {
		err := s.runArchiveScheduler(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("archive scheduler: %w", err)
		}
	}()

	// Scheduled baseline pipeline
	go func() {
		err := s.runBaselineScheduler(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("baseline scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runFollowIngestion folds live ticker updates into the candle archive.
func (s *Server) runFollowIngestion(ctx context.Context) error {
	s.logger.Printf("Starting follow ingestion for %v...", s.followTickers)

	var opts []kalshi.WSOption
	if s.signer != nil {
		opts = append(opts, kalshi.WithWSSigner(s.signer))
	}
	feed, err := kalshi.NewWSClient(ctx, s.wsURL, opts...)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer feed.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Feed:               feed,
		Store:              s.stores.candleStore,
		Tickers:            s.followTickers,
		GranularityMinutes: s.cfg.Granularity(),
		Logger:             log.New(os.Stdout, "[ingestion] ", log.LstdFlags),
	})
	return runner.Run(ctx)
}

// runArchiveScheduler backfills candle history on schedule.
func (s *Server) runArchiveScheduler(ctx context.Context) error {
	s.logger.Printf("Starting archive scheduler (interval: %v)...", s.archiveInterval)

	// Run immediately on start
	s.runArchive(ctx)

	ticker := time.NewTicker(s.archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runArchive(ctx)
		}
	}
}

// runArchive resumes the backfill from the newest archived candle.
func (s *Server) runArchive(ctx context.Context) {
	s.mu.Lock()
	if s.archiveRunning {
		s.mu.Unlock()
		s.logger.Println("Archive already running, skipping...")
		return
	}
	s.archiveRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.archiveRunning = false
		s.lastArchiveRun = time.Now()
		s.archiveRuns++
		s.mu.Unlock()
	}()

	var opts []kalshi.ClientOption
	if s.signer != nil {
		opts = append(opts, kalshi.WithSigner(s.signer))
	}
	client := kalshi.NewClient(s.baseURL, opts...)

	archiver := ingestion.NewArchiver(ingestion.ArchiverOptions{
		Source:             kalshi.NewHistorySource(client),
		Store:              s.stores.candleStore,
		GranularityMinutes: s.cfg.Granularity(),
		Logger:             log.New(os.Stdout, "[archive] ", log.LstdFlags),
	})

	result, err := archiver.Resume(ctx, s.cfg.Instrument, time.Now().UTC())
	if err != nil {
		s.logger.Printf("Archive error: %v", err)
		s.mu.Lock()
		s.runErrors++
		s.mu.Unlock()
		return
	}
	s.logger.Printf("Archive completed: %d fetched, %d stored, %d duplicates",
		result.CandlesFetched, result.CandlesStored, result.DuplicatesSkipped)
}

// runBaselineScheduler runs the baseline pipeline on schedule.
func (s *Server) runBaselineScheduler(ctx context.Context) error {
	s.logger.Printf("Starting baseline scheduler (interval: %v)...", s.baselineInterval)

	// Run immediately on start
	s.runBaseline(ctx)

	ticker := time.NewTicker(s.baselineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runBaseline(ctx)
		}
	}
}

// runBaseline executes one baseline run over the rolling window ending
// yesterday. Engine and cache are rebuilt per run; the cache is owned by a
// single run.
func (s *Server) runBaseline(ctx context.Context) {
	s.mu.Lock()
	if s.baselineRunning {
		s.mu.Unlock()
		s.logger.Println("Baseline already running, skipping...")
		return
	}
	s.baselineRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.baselineRunning = false
		s.lastBaselineRun = time.Now()
		s.baselineRuns++
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(s.windowDays - 1))

	dir := filepath.Join(s.outputDir, now.Format("20060102T150405"))
	s.logger.Printf("Running baseline over [%s, %s] into %s",
		start.Format("2006-01-02"), end.Format("2006-01-02"), dir)

	baseline, err := s.buildBaseline(dir)
	if err != nil {
		s.logger.Printf("Baseline setup error: %v", err)
		s.recordError()
		return
	}

	result, err := baseline.Run(ctx, start, end)
	if errors.Is(err, pipeline.ErrInsufficientData) {
		s.logger.Printf("Baseline skipped: insufficient data, see %s", filepath.Join(dir, pipeline.SufficiencyFile))
		return
	}
	if err != nil {
		s.logger.Printf("Baseline error: %v", err)
		s.recordError()
		return
	}

	s.mu.Lock()
	s.lastRunID = result.RunID
	s.mu.Unlock()

	s.logger.Printf("Baseline run %s completed: %d rows, pnl_total=%.4f",
		result.RunID, result.Summary.Metadata.TotalRows, result.Summary.KPIs["pnl_total"])
}

// buildBaseline assembles the pipeline components from the run config.
func (s *Server) buildBaseline(dir string) (*pipeline.Baseline, error) {
	cal, err := s.cfg.TradingCalendar()
	if err != nil {
		return nil, err
	}
	offset, err := s.cfg.DecisionTimeOffset()
	if err != nil {
		return nil, err
	}
	rule, err := s.cfg.DecisionRule()
	if err != nil {
		return nil, err
	}
	fees, err := s.cfg.FeeModel()
	if err != nil {
		return nil, err
	}

	var provider calendar.ContractProvider
	if s.series != "" {
		var opts []kalshi.ClientOption
		if s.signer != nil {
			opts = append(opts, kalshi.WithSigner(s.signer))
		}
		client := kalshi.NewClient(s.baseURL, opts...)
		provider = kalshi.NewContractProvider(client, s.series)
	} else {
		provider = pipeline.FixtureProvider(s.stores.candleStore, s.cfg.Instrument, pipeline.FixtureLadderW, pipeline.FixtureRungs)
	}

	enumerator := calendar.NewEnumerator(calendar.EnumeratorOptions{
		Instrument:   s.cfg.Instrument,
		Calendar:     cal,
		Provider:     provider,
		DecisionTime: offset,
		Horizon:      s.cfg.HorizonTradingDays,
	})

	engine := backtest.NewEngine(backtest.EngineOptions{
		Cache: candles.NewCache(candles.CacheOptions{Source: s.stores.candleStore, Logger: s.logger}),
		Estimator: estimator.NewEmpirical(estimator.EmpiricalOptions{
			GranularityMinutes: s.cfg.Granularity(),
			MinSamples:         s.cfg.MinSamples,
		}),
		Rule:               rule,
		Fees:               fees,
		Instrument:         s.cfg.Instrument,
		GranularityMinutes: s.cfg.Granularity(),
		LookbackDays:       s.cfg.LookbackDays,
		Logger:             s.logger,
	})

	checker := pipeline.NewSufficiencyChecker(pipeline.SufficiencyOptions{
		Store:              s.stores.candleStore,
		Instrument:         s.cfg.Instrument,
		GranularityMinutes: s.cfg.Granularity(),
		LookbackDays:       s.cfg.LookbackDays,
		MinReference:       s.cfg.MinSamples,
	})

	return pipeline.NewBaseline(enumerator, engine, dir).
		WithLabel(s.cfg.Label).
		WithStores(s.stores.rowStore, s.stores.summaryStore).
		WithSufficiencyChecker(checker).
		WithConfigHash(s.configHash).
		WithCommandLine(strings.Join(os.Args, " ")).
		WithLogger(s.logger), nil
}

func (s *Server) recordError() {
	s.mu.Lock()
	s.runErrors++
	s.mu.Unlock()
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	Instrument      string    `json:"instrument"`
	LastArchiveRun  time.Time `json:"last_archive_run,omitempty"`
	LastBaselineRun time.Time `json:"last_baseline_run,omitempty"`
	LastRunID       string    `json:"last_run_id,omitempty"`
	ArchiveRuns     int       `json:"archive_runs"`
	BaselineRuns    int       `json:"baseline_runs"`
	RunErrors       int       `json:"run_errors"`
	ArchiveRunning  bool      `json:"archive_running"`
	BaselineRunning bool      `json:"baseline_running"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).String(),
		Instrument:      s.cfg.Instrument,
		LastArchiveRun:  s.lastArchiveRun,
		LastBaselineRun: s.lastBaselineRun,
		LastRunID:       s.lastRunID,
		ArchiveRuns:     s.archiveRuns,
		BaselineRuns:    s.baselineRuns,
		RunErrors:       s.runErrors,
		ArchiveRunning:  s.archiveRunning,
		BaselineRunning: s.baselineRunning,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// loadSigner builds a request signer from environment credentials, or nil
// when none are configured.
func loadSigner(logger *log.Logger) *kalshi.Signer {
	keyID := os.Getenv("KALSHI_API_KEY_ID")
	keyPath := os.Getenv("KALSHI_PRIVATE_KEY_PATH")
	if keyID == "" || keyPath == "" {
		return nil
	}
	signer, err := kalshi.NewSignerFromFile(keyID, keyPath)
	if err != nil {
		logger.Fatalf("load venue credentials: %v", err)
	}
	return signer
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
