package analysis

import (
	"math"
	"testing"

	"bracket-lab/internal/domain"
)

func settledAt(prob float64, won bool) *domain.BacktestRow {
	outcome := domain.OutcomeLoss
	if won {
		outcome = domain.OutcomeWin
	}
	return &domain.BacktestRow{
		Side: domain.SideYes, Probability: prob,
		Action: domain.ActionBuy, Size: 1, EntryPrice: 0.5,
		Outcome: outcome,
	}
}

func TestCalibrationTable_BucketsAndGaps(t *testing.T) {
	rows := []*domain.BacktestRow{
		settledAt(0.05, false),
		settledAt(0.55, true),
		settledAt(0.55, false),
		settledAt(0.95, true),
		settledAt(0.95, true),
		// unsettled rows never enter the table
		{Side: domain.SideYes, Probability: 0.55, Action: domain.ActionBuy, Outcome: domain.OutcomeUnsettled},
	}

	table := CalibrationTable(rows, 10)
	if len(table) != 10 {
		t.Fatalf("expected 10 buckets, got %d", len(table))
	}

	// bucket [0, 0.1): one loss at 0.05
	b := table[0]
	if b.Count != 1 || b.MeanPredicted != 0.05 || b.ObservedFreq != 0 {
		t.Errorf("bucket 0: count=%d mean=%v observed=%v", b.Count, b.MeanPredicted, b.ObservedFreq)
	}
	if math.Abs(b.Gap-0.05) > 1e-12 {
		t.Errorf("bucket 0: expected gap 0.05, got %v", b.Gap)
	}

	// bucket [0.5, 0.6): one win, one loss at 0.55
	b = table[5]
	if b.Count != 2 || b.ObservedFreq != 0.5 {
		t.Errorf("bucket 5: count=%d observed=%v", b.Count, b.ObservedFreq)
	}
	if math.Abs(b.Gap-0.05) > 1e-12 {
		t.Errorf("bucket 5: expected gap 0.05, got %v", b.Gap)
	}

	// bucket [0.9, 1.0]: two wins at 0.95
	b = table[9]
	if b.Count != 2 || b.ObservedFreq != 1 {
		t.Errorf("bucket 9: count=%d observed=%v", b.Count, b.ObservedFreq)
	}

	// empty bucket keeps its bounds and zero count
	b = table[3]
	if b.Count != 0 || b.Low != 0.3 || b.High != 0.4 {
		t.Errorf("bucket 3: expected empty [0.3,0.4), got count=%d [%v,%v)", b.Count, b.Low, b.High)
	}

	// every gap is 0.05, so the weighted sum collapses to 0.05
	if got := ECE(table); math.Abs(got-0.05) > 1e-12 {
		t.Errorf("expected ece 0.05, got %v", got)
	}
}

func TestCalibrationTable_ClampsTopProbability(t *testing.T) {
	table := CalibrationTable([]*domain.BacktestRow{settledAt(1.0, true)}, 10)
	if table[9].Count != 1 {
		t.Errorf("expected probability 1.0 in the last bucket, got count %d", table[9].Count)
	}
}

func TestECE_NoSettledRows(t *testing.T) {
	table := CalibrationTable(nil, 10)
	if got := ECE(table); got != 0 {
		t.Errorf("expected ece 0 without settled rows, got %v", got)
	}
}
