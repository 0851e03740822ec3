package reporting

import (
	"fmt"
	"strings"
	"time"

	"bracket-lab/internal/analysis"
	"bracket-lab/internal/compare"
	"bracket-lab/internal/domain"
)

// RenderRunMarkdown renders the run report as a Markdown string.
func RenderRunMarkdown(r *RunReport) string {
	var sb strings.Builder
	s := r.Summary

	sb.WriteString("# Backtest Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", s.Metadata.GeneratedAt.Format(time.RFC3339)))

	sb.WriteString(fmt.Sprintf("- run_id: `%s`\n", s.RunID))
	if s.Label != "" {
		sb.WriteString(fmt.Sprintf("- label: %s\n", s.Label))
	}
	sb.WriteString(fmt.Sprintf("- instrument: %s\n", s.Instrument))
	sb.WriteString(fmt.Sprintf("- events: %d\n", r.Events))
	sb.WriteString(fmt.Sprintf("- rule: %s\n", r.RuleID))
	sb.WriteString(fmt.Sprintf("- fees: %s\n", r.FeeID))
	sb.WriteString(fmt.Sprintf("- input_hash: `%s`\n", s.Metadata.InputHash))
	if s.ConfigHash != "" {
		sb.WriteString(fmt.Sprintf("- config_hash: `%s`\n", s.ConfigHash))
	}
	if s.Metadata.CodeVersion != "" {
		sb.WriteString(fmt.Sprintf("- code_version: %s\n", s.Metadata.CodeVersion))
	}
	if s.Metadata.ToolVersion != "" {
		sb.WriteString(fmt.Sprintf("- tool_version: %s\n", s.Metadata.ToolVersion))
	}
	sb.WriteString("\n")

	sb.WriteString("## KPIs\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	for _, key := range domain.KPIKeys {
		sb.WriteString(fmt.Sprintf("| %s | %.6f |\n", key, s.KPIs[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("## Data Quality\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Rows | %d |\n", s.Metadata.TotalRows))
	sb.WriteString(fmt.Sprintf("| Settled Rows | %d |\n", s.Metadata.SettledRows))
	sb.WriteString(fmt.Sprintf("| Unsettled Rows | %d |\n", s.Metadata.UnsettledRows))
	sb.WriteString(fmt.Sprintf("| Skipped Rows | %d |\n", s.Metadata.SkippedRows))
	sb.WriteString("\n")

	return sb.String()
}

// RenderSanityMarkdown renders the sanity report as a Markdown string.
func RenderSanityMarkdown(r *analysis.SanityReport) string {
	var sb strings.Builder

	sb.WriteString("# Backtest Sanity Report\n\n")
	sb.WriteString(fmt.Sprintf("- run_id: `%s`\n", r.RunID))
	sb.WriteString(fmt.Sprintf("- generated_at: %s\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- rows: %d\n", r.TotalRows))
	sb.WriteString(fmt.Sprintf("- checks_passed: %d/%d\n\n", r.ChecksPassed, r.ChecksTotal))

	sb.WriteString("## Invariant Checks\n\n")
	for _, check := range r.Checks {
		status := "FAIL"
		if check.Passed {
			status = "PASS"
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", status, check.Name, check.Details))
	}
	sb.WriteString("\n")

	sb.WriteString("## Bootstrap\n\n")
	sb.WriteString(fmt.Sprintf("- pnl_avg_95pct_bootstrap_ci: [%.6f, %.6f]\n\n", r.BootstrapLo, r.BootstrapHi))

	sb.WriteString("## Edge Diagnostics\n\n")
	sb.WriteString(fmt.Sprintf("- n_edge_positive: %d\n", r.Edge.PositiveCount))
	sb.WriteString(fmt.Sprintf("- n_edge_non_positive: %d\n", r.Edge.NonPositiveCount))
	sb.WriteString(fmt.Sprintf("- corr_edge_pnl: %.6f\n", r.Edge.EdgePnLCorr))
	sb.WriteString(fmt.Sprintf("- mean_pnl_edge_positive: %.6f\n", r.Edge.MeanPnLPositive))
	sb.WriteString(fmt.Sprintf("- mean_pnl_edge_non_positive: %.6f\n", r.Edge.MeanPnLNonPositive))
	sb.WriteString(fmt.Sprintf("- hit_rate_edge_positive: %.6f\n", r.Edge.HitRatePositive))
	sb.WriteString(fmt.Sprintf("- hit_rate_edge_non_positive: %.6f\n", r.Edge.HitRateNonPositive))
	sb.WriteString("\n")

	sb.WriteString("## By Side\n\n")
	if len(r.BySide) > 0 {
		sb.WriteString("| Side | Trades | HitRate | AvgProb | AvgEntry | AvgEdge | AvgPnL | PnLTotal |\n")
		sb.WriteString("|------|--------|---------|---------|----------|---------|--------|----------|\n")
		for _, s := range r.BySide {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f |\n",
				s.Side, s.Trades, s.HitRate, s.AvgProb, s.AvgEntry, s.AvgEdge, s.AvgPnL, s.PnLTotal))
		}
	} else {
		sb.WriteString("No settled trades.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Calibration (confidence bins)\n\n")
	sb.WriteString("| Bucket | Count | MeanPredicted | ObservedFreq | Gap | AvgPnL |\n")
	sb.WriteString("|--------|-------|---------------|--------------|-----|--------|\n")
	for _, b := range r.Calibration {
		sb.WriteString(fmt.Sprintf("| [%.1f, %.1f) | %d | %.4f | %.4f | %.4f | %.4f |\n",
			b.Low, b.High, b.Count, b.MeanPredicted, b.ObservedFreq, b.Gap, b.AvgPnL))
	}
	sb.WriteString("\n")

	return sb.String()
}

// RenderComparisonMarkdown renders the baseline/candidate KPI delta table
// as a Markdown string. Percent deltas are shown as percentages; an
// undefined relative delta (zero baseline) renders as N/A.
func RenderComparisonMarkdown(r *compare.ComparisonReport) string {
	var sb strings.Builder

	sb.WriteString("# Backtest Comparison\n\n")
	sb.WriteString(fmt.Sprintf("- baseline: `%s`\n", r.BaselineLabel))
	sb.WriteString(fmt.Sprintf("- candidate: `%s`\n\n", r.CandidateLabel))

	sb.WriteString("## KPI Delta Table\n\n")
	sb.WriteString("| Metric | Baseline | Candidate | AbsDelta | PctDelta |\n")
	sb.WriteString("|--------|----------|-----------|----------|----------|\n")
	for _, row := range r.Rows {
		pct := "N/A"
		if row.PctValid {
			pct = fmt.Sprintf("%.2f%%", row.PctDelta*100)
		}
		sb.WriteString(fmt.Sprintf("| %s | %.6f | %.6f | %.6f | %s |\n",
			row.Key, row.Baseline, row.Candidate, row.AbsDelta, pct))
	}
	sb.WriteString("\n")

	return sb.String()
}
