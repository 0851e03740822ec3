package analysis

import (
	"errors"
	"math"
	"runtime"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/estimator"
	"bracket-lab/internal/idhash"
)

// ErrNoRows is returned when there are no rows to summarize.
var ErrNoRows = errors.New("no rows to summarize")

// CalibrationBuckets is the bucket count shared by the calibration table
// and the ece metric.
const CalibrationBuckets = 10

// Summarizer reduces a run's rows to the canonical KPI vector plus
// reproducibility metadata.
type Summarizer struct {
	now func() time.Time
}

// SummarizerOptions contains configuration for creating a Summarizer.
type SummarizerOptions struct {
	// Now supplies the summarization timestamp. time.Now when nil.
	Now func() time.Time
}

// NewSummarizer creates a new Summarizer.
func NewSummarizer(opts SummarizerOptions) *Summarizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Summarizer{now: now}
}

// Summarize computes the fixed KPI vector over rows. Rows must be in
// emission order: the input hash covers that exact sequence, so identical
// rows produce identical KPIs and hash regardless of wall-clock.
//
// Settled-row metrics (pnl stats, brier, logloss, ece) exclude UNSETTLED
// rows; hit_rate and edge_pnl_corr additionally exclude SKIP rows. The
// exclusions are reported as counts in the metadata, never silent.
func (s *Summarizer) Summarize(rows []*domain.BacktestRow) (domain.KPIVector, domain.RunMetadata, error) {
	if len(rows) == 0 {
		return nil, domain.RunMetadata{}, ErrNoRows
	}

	meta := domain.RunMetadata{
		InputHash:   idhash.ComputeInputHash(rows),
		GeneratedAt: s.now().UTC(),
		ToolVersion: runtime.Version(),
		TotalRows:   len(rows),
	}

	var (
		orderedPnLs []float64 // every row in order, for drawdown
		settledPnLs []float64
		tradedEdges []float64
		corrEdges   []float64 // traded settled rows only
		corrPnLs    []float64

		tradedSettled int
		tradedWins    int
		brierSum      float64
		loglossSum    float64
	)

	for _, row := range rows {
		orderedPnLs = append(orderedPnLs, row.PnL)

		traded := row.Action == domain.ActionBuy
		if traded {
			tradedEdges = append(tradedEdges, row.Edge)
		} else {
			meta.SkippedRows++
		}

		if !row.Settled() {
			meta.UnsettledRows++
			continue
		}
		meta.SettledRows++
		settledPnLs = append(settledPnLs, row.PnL)

		outcome := row.OutcomeValue()
		diff := row.Probability - outcome
		brierSum += diff * diff

		p := estimator.Clip(row.Probability)
		loglossSum -= outcome*math.Log(p) + (1-outcome)*math.Log(1-p)

		if traded {
			corrEdges = append(corrEdges, row.Edge)
			corrPnLs = append(corrPnLs, row.PnL)
			tradedSettled++
			if row.PnL > 0 {
				tradedWins++
			}
		}
	}

	pnlTotal := 0.0
	for _, p := range settledPnLs {
		pnlTotal += p
	}
	pnlAvg := mean(settledPnLs)
	pnlStd := sampleStddev(settledPnLs, pnlAvg)
	sharpe := 0.0
	if pnlStd != 0 {
		sharpe = pnlAvg / pnlStd
	}
	hitRate := 0.0
	if tradedSettled > 0 {
		hitRate = float64(tradedWins) / float64(tradedSettled)
	}
	brierMean := 0.0
	loglossMean := 0.0
	if meta.SettledRows > 0 {
		brierMean = brierSum / float64(meta.SettledRows)
		loglossMean = loglossSum / float64(meta.SettledRows)
	}

	kpis := domain.KPIVector{
		domain.KPIPnLTotal:    pnlTotal,
		domain.KPIPnLAvg:      pnlAvg,
		domain.KPIPnLStd:      pnlStd,
		domain.KPISharpeLike:  sharpe,
		domain.KPIMaxDrawdown: maxDrawdown(orderedPnLs),
		domain.KPIHitRate:     hitRate,
		domain.KPIAvgEdge:     mean(tradedEdges),
		domain.KPIEdgePnLCorr: pearson(corrEdges, corrPnLs),
		domain.KPIBrierMean:   brierMean,
		domain.KPILoglossMean: loglossMean,
		domain.KPIECE:         ECE(CalibrationTable(rows, CalibrationBuckets)),
	}
	return kpis, meta, nil
}
