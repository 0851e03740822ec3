package verification

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"bracket-lab/internal/analysis"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/idhash"
	"bracket-lab/internal/storage/memory"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func makeRows(runID string) []*domain.BacktestRow {
	mk := func(seq int, prob, entry float64, action domain.Action, outcome domain.Outcome, pnl float64) *domain.BacktestRow {
		row := &domain.BacktestRow{
			RunID:       runID,
			Seq:         seq,
			EventID:     "evt-1",
			ContractID:  "c-" + string(rune('a'+seq)),
			Side:        domain.SideYes,
			Probability: prob,
			Action:      action,
			EntryPrice:  entry,
			Edge:        prob - entry,
			Outcome:     outcome,
		}
		if action == domain.ActionBuy {
			row.Size = 1
			row.PnL = pnl
		}
		if outcome != domain.OutcomeUnsettled {
			row.SettlementValue = 5000
		}
		return row
	}

	return []*domain.BacktestRow{
		mk(0, 0.70, 0.55, domain.ActionBuy, domain.OutcomeWin, 0.45),
		mk(1, 0.40, 0.45, domain.ActionSkip, domain.OutcomeLoss, 0),
		mk(2, 0.60, 0.40, domain.ActionBuy, domain.OutcomeLoss, -0.40),
		mk(3, 0.50, 0.50, domain.ActionSkip, domain.OutcomeUnsettled, 0),
	}
}

// storeRun summarizes rows with the production summarizer and persists both
// sides, so a fresh verification has nothing to diverge on.
func storeRun(t *testing.T, rows *memory.BacktestRowStore, summaries *memory.RunSummaryStore, runID string) []*domain.BacktestRow {
	t.Helper()
	ctx := context.Background()

	runRows := makeRows(runID)
	summarizer := analysis.NewSummarizer(analysis.SummarizerOptions{
		Now: func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	kpis, meta, err := summarizer.Summarize(runRows)
	if err != nil {
		t.Fatal(err)
	}
	meta.RunID = runID

	if err := rows.InsertBulk(ctx, runRows); err != nil {
		t.Fatal(err)
	}
	if err := summaries.Insert(ctx, &domain.RunSummary{
		RunID:      runID,
		Label:      "verify-test",
		Instrument: "INXD",
		KPIs:       kpis,
		Metadata:   meta,
		CreatedAt:  1709251200,
	}); err != nil {
		t.Fatal(err)
	}
	return runRows
}

func TestVerifyRun_Match(t *testing.T) {
	rows := memory.NewBacktestRowStore()
	summaries := memory.NewRunSummaryStore()
	storeRun(t, rows, summaries, "run-1")

	v := NewVerifier(VerifierOptions{Rows: rows, Summaries: summaries, Logger: quietLogger()})
	result, err := v.VerifyRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !result.Match {
		t.Fatalf("Match = false, divergences: %+v", result.Divergences)
	}
	if result.Rows != 4 {
		t.Errorf("Rows = %d, want 4", result.Rows)
	}
}

func TestVerifyRun_TamperedKPI(t *testing.T) {
	ctx := context.Background()
	rows := memory.NewBacktestRowStore()
	summaries := memory.NewRunSummaryStore()
	storeRun(t, rows, summaries, "run-1")

	// Store a summary whose pnl_total no longer matches the rows.
	stored, err := summaries.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	tampered := memory.NewRunSummaryStore()
	stored.KPIs[domain.KPIPnLTotal] += 1.0
	if err := tampered.Insert(ctx, stored); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(VerifierOptions{Rows: rows, Summaries: tampered, Logger: quietLogger()})
	result, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Match {
		t.Fatal("Match = true for tampered KPI")
	}
	found := false
	for _, d := range result.Divergences {
		if d.Field == "kpi.pnl_total" {
			found = true
		}
	}
	if !found {
		t.Errorf("no pnl_total divergence reported: %+v", result.Divergences)
	}
}

func TestVerifyRun_TamperedRows(t *testing.T) {
	ctx := context.Background()
	rows := memory.NewBacktestRowStore()
	summaries := memory.NewRunSummaryStore()
	runRows := storeRun(t, rows, summaries, "run-1")

	// Same summary, different rows: the input hash catches the edit.
	tamperedRows := memory.NewBacktestRowStore()
	runRows[0].PnL += 0.25
	if err := tamperedRows.InsertBulk(ctx, runRows); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(VerifierOptions{Rows: tamperedRows, Summaries: summaries, Logger: quietLogger()})
	result, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Match {
		t.Fatal("Match = true for tampered rows")
	}
	fields := map[string]bool{}
	for _, d := range result.Divergences {
		fields[d.Field] = true
	}
	if !fields["input_hash"] {
		t.Errorf("no input_hash divergence: %+v", result.Divergences)
	}
	if !fields["kpi.pnl_total"] {
		t.Errorf("no pnl_total divergence: %+v", result.Divergences)
	}
}

func TestVerifyRun_MissingRows(t *testing.T) {
	ctx := context.Background()
	rows := memory.NewBacktestRowStore()
	summaries := memory.NewRunSummaryStore()
	storeRun(t, memory.NewBacktestRowStore(), summaries, "run-1")

	v := NewVerifier(VerifierOptions{Rows: rows, Summaries: summaries, Logger: quietLogger()})
	result, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Match {
		t.Fatal("Match = true with no rows stored")
	}
	if len(result.Divergences) != 1 || result.Divergences[0].Field != "rows" {
		t.Errorf("divergences = %+v", result.Divergences)
	}
}

func TestVerifyRun_UnknownRun(t *testing.T) {
	v := NewVerifier(VerifierOptions{
		Rows:      memory.NewBacktestRowStore(),
		Summaries: memory.NewRunSummaryStore(),
		Logger:    quietLogger(),
	})
	if _, err := v.VerifyRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestVerifyAll(t *testing.T) {
	ctx := context.Background()
	rows := memory.NewBacktestRowStore()
	summaries := memory.NewRunSummaryStore()
	storeRun(t, rows, summaries, "run-a")
	storeRun(t, rows, summaries, "run-b")

	// Tamper run-b's stored summary.
	stored, err := summaries.GetByRunID(ctx, "run-b")
	if err != nil {
		t.Fatal(err)
	}
	stored.KPIs[domain.KPIHitRate] = 0.99
	tampered := memory.NewRunSummaryStore()
	a, err := summaries.GetByRunID(ctx, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if err := tampered.Insert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := tampered.Insert(ctx, stored); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(VerifierOptions{Rows: rows, Summaries: tampered, Logger: quietLogger()})
	report, err := v.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalRuns != 2 {
		t.Errorf("TotalRuns = %d", report.TotalRuns)
	}
	if report.MatchedRuns != 1 || report.DivergentRuns != 1 {
		t.Errorf("matched/divergent = %d/%d, want 1/1", report.MatchedRuns, report.DivergentRuns)
	}
}

func TestVerifyRun_HashIgnoresRunID(t *testing.T) {
	a := makeRows("run-a")
	b := makeRows("run-b")
	if idhash.ComputeInputHash(a) != idhash.ComputeInputHash(b) {
		t.Error("input hash depends on run id")
	}
}
