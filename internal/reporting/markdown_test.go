package reporting

import (
	"strings"
	"testing"
	"time"

	"bracket-lab/internal/analysis"
	"bracket-lab/internal/compare"
	"bracket-lab/internal/domain"
)

func sampleSummary() *domain.RunSummary {
	kpis := make(domain.KPIVector, len(domain.KPIKeys))
	for _, key := range domain.KPIKeys {
		kpis[key] = 0.5
	}
	kpis[domain.KPIPnLTotal] = 12.25

	return &domain.RunSummary{
		RunID:      "run-1",
		Label:      "baseline",
		Instrument: "TSA",
		KPIs:       kpis,
		ConfigHash: "cafe01",
		Metadata: domain.RunMetadata{
			RunID:         "run-1",
			InputHash:     "beef02",
			GeneratedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			CodeVersion:   "0.3.0",
			ToolVersion:   "go1.24.0",
			TotalRows:     40,
			SettledRows:   36,
			UnsettledRows: 4,
			SkippedRows:   10,
		},
	}
}

func TestRenderRunMarkdown(t *testing.T) {
	md := RenderRunMarkdown(&RunReport{
		Summary: sampleSummary(),
		RuleID:  "EDGE_THRESHOLD_0.0500_1",
		FeeID:   "VENUE_FEE_0.07",
		Events:  20,
	})

	for _, want := range []string{
		"# Backtest Report",
		"- run_id: `run-1`",
		"- label: baseline",
		"- instrument: TSA",
		"- events: 20",
		"- rule: EDGE_THRESHOLD_0.0500_1",
		"- fees: VENUE_FEE_0.07",
		"- input_hash: `beef02`",
		"- config_hash: `cafe01`",
		"| pnl_total | 12.250000 |",
		"| Unsettled Rows | 4 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}

	// one table row per KPI key
	for _, key := range domain.KPIKeys {
		if !strings.Contains(md, "| "+key+" | ") {
			t.Errorf("report missing KPI row for %s", key)
		}
	}
}

func TestRenderSanityMarkdown(t *testing.T) {
	report := &analysis.SanityReport{
		RunID:        "run-1",
		GeneratedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TotalRows:    4,
		ChecksPassed: 1,
		ChecksTotal:  2,
		Checks: []analysis.CheckResult{
			{Name: "prob_in_[0,1]", Passed: true, Details: "below=0, above=0, bounds=[0, 1]"},
			{Name: "pnl_rederivation", Passed: false, Details: "max_delta=0.5, rows_over_tolerance=1"},
		},
		Calibration: analysis.CalibrationTable(nil, 10),
		BootstrapLo: -0.1,
		BootstrapHi: 0.3,
		BySide: []analysis.SideSummary{
			{Side: domain.SideYes, Trades: 2, HitRate: 0.5, AvgPnL: -0.05, PnLTotal: -0.1},
		},
	}

	md := RenderSanityMarkdown(report)

	for _, want := range []string{
		"# Backtest Sanity Report",
		"- checks_passed: 1/2",
		"- [PASS] prob_in_[0,1]:",
		"- [FAIL] pnl_rederivation:",
		"- pnl_avg_95pct_bootstrap_ci: [-0.100000, 0.300000]",
		"## By Side",
		"| YES | 2 |",
		"## Calibration (confidence bins)",
		"| [0.0, 0.1) | 0 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("sanity report missing %q", want)
		}
	}
}

func TestRenderComparisonMarkdown(t *testing.T) {
	report := &compare.ComparisonReport{
		BaselineLabel:  "baseline",
		CandidateLabel: "run-2",
		Rows: []compare.ComparisonRow{
			{Key: "pnl_total", Baseline: 2, Candidate: 3, AbsDelta: 1, PctDelta: 0.5, PctValid: true},
			{Key: "hit_rate", Baseline: 0, Candidate: 1, AbsDelta: 1},
		},
	}

	md := RenderComparisonMarkdown(report)

	if !strings.Contains(md, "| pnl_total | 2.000000 | 3.000000 | 1.000000 | 50.00% |") {
		t.Errorf("missing pct delta row, got:\n%s", md)
	}
	if !strings.Contains(md, "| hit_rate | 0.000000 | 1.000000 | 1.000000 | N/A |") {
		t.Errorf("missing N/A row for zero baseline, got:\n%s", md)
	}
}
