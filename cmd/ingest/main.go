package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/ingestion"
	"bracket-lab/internal/kalshi"
	"bracket-lab/internal/observability"
	"bracket-lab/internal/storage"
	chstore "bracket-lab/internal/storage/clickhouse"
	"bracket-lab/internal/storage/memory"
	sqlstore "bracket-lab/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	// Instrument and mode
	instrument := flag.String("instrument", "", "Market ticker to archive (required for backfill)")
	follow := flag.Bool("follow", false, "Follow the live ticker feed instead of backfilling")
	tickers := flag.String("tickers", "", "Comma-separated market tickers for --follow (defaults to --instrument)")

	// Backfill range
	fromDate := flag.String("from", "", "Backfill start, YYYY-MM-DD")
	toDate := flag.String("to", "", "Backfill end, YYYY-MM-DD (default today)")
	resume := flag.Bool("resume", false, "Continue from the newest archived candle")

	granularity := flag.Int("granularity-minutes", domain.GranularityDay, "Candle granularity in minutes")

	// Venue
	baseURL := flag.String("base-url", os.Getenv("KALSHI_BASE_URL"), "Venue REST base URL")
	wsURL := flag.String("ws-url", os.Getenv("KALSHI_WS_URL"), "Venue WebSocket URL (required for --follow)")

	// Storage
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite file for the candle archive")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (dry runs)")

	// Observability
	metricsAddr := flag.String("metrics-addr", os.Getenv("METRICS_ADDR"), "Address for /metrics and /health (empty disables)")

	flag.Parse()

	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
		sig = <-sigCh
		logger.Printf("Received second signal %v, forcing exit", sig)
		os.Exit(1)
	}()

	// Candle archive
	var store storage.CandleStore = memory.NewCandleStore()
	switch {
	case *useMemory:
	case *sqlitePath != "":
		st, err := sqlstore.NewCandleStore(ctx, *sqlitePath)
		if err != nil {
			logger.Fatalf("open sqlite archive: %v", err)
		}
		defer st.Close()
		store = st
	case *clickhouseDSN != "":
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		store = chstore.NewCandleStore(conn)
	default:
		logger.Fatal("one of --use-memory, --sqlite-path or --clickhouse-dsn is required")
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	signer := loadSigner(logger)

	if *follow {
		if err := runFollow(ctx, store, signer, *wsURL, *tickers, *instrument, *granularity, logger); err != nil && ctx.Err() == nil {
			logger.Fatalf("follow ingestion failed: %v", err)
		}
		return
	}

	if err := runBackfill(ctx, store, signer, *baseURL, *instrument, *fromDate, *toDate, *resume, *granularity, logger); err != nil {
		logger.Fatalf("backfill failed: %v", err)
	}
}

// runBackfill pages the venue's candlestick history into the archive.
func runBackfill(ctx context.Context, store storage.CandleStore, signer *kalshi.Signer,
	baseURL, instrument, fromDate, toDate string, resume bool, granularity int, logger *log.Logger) error {

	if instrument == "" {
		return fmt.Errorf("--instrument is required")
	}

	var opts []kalshi.ClientOption
	if signer != nil {
		opts = append(opts, kalshi.WithSigner(signer))
	}
	client := kalshi.NewClient(baseURL, opts...)
	source := kalshi.NewHistorySource(client)

	archiver := ingestion.NewArchiver(ingestion.ArchiverOptions{
		Source:             source,
		Store:              store,
		GranularityMinutes: granularity,
		Logger:             logger,
	})

	to := time.Now().UTC()
	if toDate != "" {
		t, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}
		to = t
	}

	var result *ingestion.ArchiveResult
	var err error
	if resume {
		result, err = archiver.Resume(ctx, instrument, to)
	} else {
		if fromDate == "" {
			return fmt.Errorf("--from is required unless --resume is set")
		}
		from, perr := time.Parse("2006-01-02", fromDate)
		if perr != nil {
			return fmt.Errorf("parse --from: %w", perr)
		}
		result, err = archiver.ArchiveRange(ctx, instrument, from, to)
	}
	if result != nil {
		printArchiveResult(instrument, result)
	}
	return err
}

// runFollow folds live ticker updates into candles until interrupted.
func runFollow(ctx context.Context, store storage.CandleStore, signer *kalshi.Signer,
	wsURL, tickers, instrument string, granularity int, logger *log.Logger) error {

	markets := splitTickers(tickers)
	if len(markets) == 0 && instrument != "" {
		markets = []string{instrument}
	}
	if len(markets) == 0 {
		return fmt.Errorf("--tickers or --instrument is required for --follow")
	}

	var opts []kalshi.WSOption
	if signer != nil {
		opts = append(opts, kalshi.WithWSSigner(signer))
	}
	feed, err := kalshi.NewWSClient(ctx, wsURL, opts...)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer feed.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Feed:               feed,
		Store:              store,
		Tickers:            markets,
		GranularityMinutes: granularity,
		Logger:             logger,
	})
	return runner.Run(ctx)
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

// serveMetrics exposes /metrics and /health while ingestion runs.
func serveMetrics(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	logger.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("metrics server: %v", err)
	}
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

func printArchiveResult(instrument string, r *ingestion.ArchiveResult) {
	fmt.Println()
	fmt.Println("=== Archive Result ===")
	fmt.Printf("Instrument:         %s\n", instrument)
	fmt.Printf("Pages fetched:      %d\n", r.Pages)
	fmt.Printf("Candles fetched:    %d\n", r.CandlesFetched)
	fmt.Printf("Candles stored:     %d\n", r.CandlesStored)
	fmt.Printf("Duplicates skipped: %d\n", r.DuplicatesSkipped)
	fmt.Printf("Store errors:       %d\n", r.Errors)
	fmt.Printf("Duration:           %v\n", r.Duration.Round(time.Millisecond))
}
