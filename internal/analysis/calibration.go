package analysis

import (
	"math"

	"bracket-lab/internal/domain"
)

// CalibrationBucket is one equal-width probability bucket of settled rows.
type CalibrationBucket struct {
	Low           float64 `json:"low"`
	High          float64 `json:"high"`
	Count         int     `json:"count"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedFreq  float64 `json:"observed_freq"`
	Gap           float64 `json:"gap"`
	AvgPnL        float64 `json:"avg_pnl"`
}

// CalibrationTable buckets settled rows by predicted win probability into
// equal-width buckets. Empty buckets stay in the table with zero count so
// the rendered table always has the same shape.
func CalibrationTable(rows []*domain.BacktestRow, buckets int) []CalibrationBucket {
	if buckets <= 0 {
		buckets = CalibrationBuckets
	}

	probSums := make([]float64, buckets)
	pnlSums := make([]float64, buckets)
	counts := make([]int, buckets)
	wins := make([]int, buckets)

	for _, row := range rows {
		if !row.Settled() {
			continue
		}
		idx := int(row.Probability * float64(buckets))
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
		probSums[idx] += row.Probability
		pnlSums[idx] += row.PnL
		if row.Outcome == domain.OutcomeWin {
			wins[idx]++
		}
	}

	table := make([]CalibrationBucket, buckets)
	for k := 0; k < buckets; k++ {
		b := CalibrationBucket{
			Low:   float64(k) / float64(buckets),
			High:  float64(k+1) / float64(buckets),
			Count: counts[k],
		}
		if counts[k] > 0 {
			n := float64(counts[k])
			b.MeanPredicted = probSums[k] / n
			b.ObservedFreq = float64(wins[k]) / n
			b.Gap = math.Abs(b.ObservedFreq - b.MeanPredicted)
			b.AvgPnL = pnlSums[k] / n
		}
		table[k] = b
	}
	return table
}

// ECE returns the expected calibration error of a table: the count-weighted
// mean absolute gap. Empty buckets contribute zero weight.
func ECE(table []CalibrationBucket) float64 {
	total := 0
	for _, b := range table {
		total += b.Count
	}
	if total == 0 {
		return 0
	}
	ece := 0.0
	for _, b := range table {
		if b.Count == 0 {
			continue
		}
		ece += float64(b.Count) / float64(total) * b.Gap
	}
	return ece
}
