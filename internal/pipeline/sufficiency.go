package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// Default sufficiency thresholds.
const (
	DefaultMinReferenceCandles = 30
	DefaultMaxGapPeriods       = 3
	DefaultMinWindowCoverage   = 0.90
)

// SufficiencyCheck is one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult contains all checks plus any integrity errors found
// while computing them.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
	Errors  []string
}

// Passed returns the number of passing checks.
func (r *SufficiencyResult) Passed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Pass {
			n++
		}
	}
	return n
}

// SufficiencyChecker validates that the candle archive can support a run
// before any event is priced: enough reference history, no large gaps, and
// settlement bars present across the window.
type SufficiencyChecker struct {
	store              storage.CandleStore
	instrument         string
	granularityMinutes int
	lookbackDays       int

	minReference      int
	maxGapPeriods     int
	minWindowCoverage float64
}

// SufficiencyOptions contains configuration for creating a SufficiencyChecker.
type SufficiencyOptions struct {
	Store              storage.CandleStore
	Instrument         string
	GranularityMinutes int
	LookbackDays       int

	// MinReference is the minimum number of candles required strictly
	// before the window start.
	MinReference int

	// MaxGapPeriods is the largest tolerated gap between consecutive
	// candles, in granularity periods.
	MaxGapPeriods int

	// MinWindowCoverage is the minimum fraction of window days that must
	// have a candle.
	MinWindowCoverage float64
}

// NewSufficiencyChecker creates a checker with defaults for unset options.
func NewSufficiencyChecker(opts SufficiencyOptions) *SufficiencyChecker {
	granularity := opts.GranularityMinutes
	if granularity <= 0 {
		granularity = domain.GranularityDay
	}
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = 365
	}
	minRef := opts.MinReference
	if minRef <= 0 {
		minRef = DefaultMinReferenceCandles
	}
	maxGap := opts.MaxGapPeriods
	if maxGap <= 0 {
		maxGap = DefaultMaxGapPeriods
	}
	coverage := opts.MinWindowCoverage
	if coverage <= 0 {
		coverage = DefaultMinWindowCoverage
	}
	return &SufficiencyChecker{
		store:              opts.Store,
		instrument:         opts.Instrument,
		granularityMinutes: granularity,
		lookbackDays:       lookback,
		minReference:       minRef,
		maxGapPeriods:      maxGap,
		minWindowCoverage:  coverage,
	}
}

// Check runs all sufficiency checks for a run over [start, end].
func (c *SufficiencyChecker) Check(ctx context.Context, start, end time.Time) (*SufficiencyResult, error) {
	result := &SufficiencyResult{AllPass: true}

	windowStart := start.UTC().Unix()
	windowEnd := end.UTC().Unix() + 86400 // end date is inclusive
	refStart := windowStart - int64(c.lookbackDays)*86400

	reference, err := c.store.GetRange(ctx, c.instrument, refStart, windowStart, c.granularityMinutes)
	if err != nil {
		return nil, fmt.Errorf("loading reference candles: %w", err)
	}
	window, err := c.store.GetRange(ctx, c.instrument, windowStart, windowEnd, c.granularityMinutes)
	if err != nil {
		return nil, fmt.Errorf("loading window candles: %w", err)
	}

	checks := []SufficiencyCheck{
		c.checkReferenceDepth(reference),
		c.checkContinuity(reference, result),
		c.checkWindowCoverage(window, windowStart, windowEnd),
		c.checkDuplicates(append(append([]*domain.Candle{}, reference...), window...), result),
	}
	for _, check := range checks {
		result.Checks = append(result.Checks, check)
		if !check.Pass {
			result.AllPass = false
		}
	}
	return result, nil
}

// checkReferenceDepth: enough history before the window to estimate from.
func (c *SufficiencyChecker) checkReferenceDepth(reference []*domain.Candle) SufficiencyCheck {
	return SufficiencyCheck{
		Name:      "Reference candles before window",
		Threshold: fmt.Sprintf(">= %d", c.minReference),
		Actual:    fmt.Sprintf("%d", len(reference)),
		Pass:      len(reference) >= c.minReference,
	}
}

// checkContinuity: the largest gap between consecutive reference candles
// stays within tolerance. Gaps skew the move distribution the estimator
// samples from.
func (c *SufficiencyChecker) checkContinuity(reference []*domain.Candle, result *SufficiencyResult) SufficiencyCheck {
	period := int64(c.granularityMinutes) * 60
	maxGap := int64(0)
	for i := 1; i < len(reference); i++ {
		gap := reference[i].Timestamp - reference[i-1].Timestamp
		if gap > maxGap {
			maxGap = gap
		}
		if gap > int64(c.maxGapPeriods)*period {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"gap of %d periods before candle at %d", gap/period, reference[i].Timestamp))
		}
	}
	gapPeriods := int64(0)
	if period > 0 {
		gapPeriods = maxGap / period
	}
	return SufficiencyCheck{
		Name:      "Largest reference gap",
		Threshold: fmt.Sprintf("<= %d periods", c.maxGapPeriods),
		Actual:    fmt.Sprintf("%d periods", gapPeriods),
		Pass:      gapPeriods <= int64(c.maxGapPeriods),
	}
}

// checkWindowCoverage: settlement bars present across the run window.
func (c *SufficiencyChecker) checkWindowCoverage(window []*domain.Candle, windowStart, windowEnd int64) SufficiencyCheck {
	period := int64(c.granularityMinutes) * 60
	expected := (windowEnd - windowStart) / period
	if expected <= 0 {
		expected = 1
	}
	coverage := float64(len(window)) / float64(expected)
	if coverage > 1 {
		coverage = 1
	}
	return SufficiencyCheck{
		Name:      "Window bar coverage",
		Threshold: fmt.Sprintf(">= %.0f%%", c.minWindowCoverage*100),
		Actual:    fmt.Sprintf("%.1f%% (%d/%d)", coverage*100, len(window), expected),
		Pass:      coverage >= c.minWindowCoverage,
	}
}

// checkDuplicates: duplicate timestamps == 0.
func (c *SufficiencyChecker) checkDuplicates(candles []*domain.Candle, result *SufficiencyResult) SufficiencyCheck {
	seen := make(map[int64]int, len(candles))
	for _, candle := range candles {
		seen[candle.Timestamp]++
	}
	duplicates := 0
	for ts, count := range seen {
		if count > 1 {
			duplicates++
			result.Errors = append(result.Errors, fmt.Sprintf(
				"duplicate candle timestamp %d (count=%d)", ts, count))
		}
	}
	return SufficiencyCheck{
		Name:      "Duplicate candle timestamps",
		Threshold: "= 0",
		Actual:    fmt.Sprintf("%d", duplicates),
		Pass:      duplicates == 0,
	}
}

// renderSufficiencyMarkdown renders the preflight check table. Written even
// on success so every run directory documents the data it ran over.
func renderSufficiencyMarkdown(result *SufficiencyResult, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("# Data Sufficiency Report\n\n")
	sb.WriteString("Generated: " + now.UTC().Format(time.RFC3339) + "\n\n")
	sb.WriteString(fmt.Sprintf("Checks passed: %d/%d\n\n", result.Passed(), len(result.Checks)))

	sb.WriteString("| Check | Threshold | Actual | Status |\n")
	sb.WriteString("|-------|-----------|--------|--------|\n")
	for _, check := range result.Checks {
		status := "PASS"
		if !check.Pass {
			status = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			check.Name, check.Threshold, check.Actual, status))
	}
	sb.WriteString("\n")

	if len(result.Errors) > 0 {
		sb.WriteString("## Integrity Errors\n\n")
		for _, err := range result.Errors {
			sb.WriteString("- " + err + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
