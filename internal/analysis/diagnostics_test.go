package analysis

import (
	"math"
	"testing"

	"bracket-lab/internal/domain"
)

func TestDiagnoseEdge_GroupsByEdgeSign(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Side: domain.SideYes, Probability: 0.7, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.5, Edge: 0.2, Outcome: domain.OutcomeWin, PnL: 0.5},
		{Side: domain.SideYes, Probability: 0.6, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.5, Edge: 0.1, Outcome: domain.OutcomeLoss, PnL: -0.5},
		{Side: domain.SideYes, Probability: 0.4, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.5, Edge: -0.1, Outcome: domain.OutcomeWin, PnL: 0.5},
		// skipped and unsettled rows stay out of the diagnostics
		{Side: domain.SideYes, Probability: 0.9, Action: domain.ActionSkip,
			EntryPrice: 0.1, Edge: 0.8, Outcome: domain.OutcomeWin},
		{Side: domain.SideYes, Probability: 0.9, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.1, Edge: 0.8, Outcome: domain.OutcomeUnsettled},
	}

	d := DiagnoseEdge(rows)

	if d.PositiveCount != 2 || d.NonPositiveCount != 1 {
		t.Errorf("expected 2 positive / 1 non-positive, got %d / %d", d.PositiveCount, d.NonPositiveCount)
	}
	// positive group pnl: (0.5 - 0.5) / 2
	if d.MeanPnLPositive != 0 {
		t.Errorf("expected positive-edge mean pnl 0, got %v", d.MeanPnLPositive)
	}
	if d.MeanPnLNonPositive != 0.5 {
		t.Errorf("expected non-positive-edge mean pnl 0.5, got %v", d.MeanPnLNonPositive)
	}
	if d.HitRatePositive != 0.5 {
		t.Errorf("expected positive-edge hit rate 0.5, got %v", d.HitRatePositive)
	}
	if d.HitRateNonPositive != 1.0 {
		t.Errorf("expected non-positive-edge hit rate 1.0, got %v", d.HitRateNonPositive)
	}
	if math.Abs(d.EdgePnLCorr) > 1 {
		t.Errorf("correlation out of range: %v", d.EdgePnLCorr)
	}
}

func TestDiagnoseEdge_Empty(t *testing.T) {
	d := DiagnoseEdge(nil)
	if d.PositiveCount != 0 || d.NonPositiveCount != 0 || d.EdgePnLCorr != 0 {
		t.Errorf("expected zero diagnostics on empty input, got %+v", d)
	}
}

func TestBootstrapMeanPnLCI_Deterministic(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.4},
		{Action: domain.ActionBuy, Outcome: domain.OutcomeLoss, PnL: -0.5},
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.3},
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.1},
	}

	lo1, hi1 := BootstrapMeanPnLCI(rows, 500, DefaultBootstrapSeed)
	lo2, hi2 := BootstrapMeanPnLCI(rows, 500, DefaultBootstrapSeed)
	if lo1 != lo2 || hi1 != hi2 {
		t.Errorf("expected identical intervals for identical seed, got [%v,%v] vs [%v,%v]", lo1, hi1, lo2, hi2)
	}
	if lo1 > hi1 {
		t.Errorf("interval inverted: [%v, %v]", lo1, hi1)
	}
	// resampled means can never leave the sample's range
	if lo1 < -0.5 || hi1 > 0.4 {
		t.Errorf("interval outside sample range: [%v, %v]", lo1, hi1)
	}
}

func TestBootstrapMeanPnLCI_ConstantPnL(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.5},
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.5},
		{Action: domain.ActionBuy, Outcome: domain.OutcomeWin, PnL: 0.5},
	}
	lo, hi := BootstrapMeanPnLCI(rows, 100, DefaultBootstrapSeed)
	if lo != 0.5 || hi != 0.5 {
		t.Errorf("expected degenerate interval [0.5, 0.5], got [%v, %v]", lo, hi)
	}
}

func TestBootstrapMeanPnLCI_NoSettledRows(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Action: domain.ActionBuy, Outcome: domain.OutcomeUnsettled},
	}
	lo, hi := BootstrapMeanPnLCI(rows, 100, DefaultBootstrapSeed)
	if lo != 0 || hi != 0 {
		t.Errorf("expected zero interval without settled rows, got [%v, %v]", lo, hi)
	}
}

func TestSummarizeBySide_YesBeforeNo(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Side: domain.SideNo, Probability: 0.7, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.6, Edge: 0.1, Outcome: domain.OutcomeWin, PnL: 0.4},
		{Side: domain.SideYes, Probability: 0.8, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.6, Edge: 0.2, Outcome: domain.OutcomeWin, PnL: 0.4},
		{Side: domain.SideYes, Probability: 0.6, Action: domain.ActionBuy, Size: 1,
			EntryPrice: 0.5, Edge: 0.1, Outcome: domain.OutcomeLoss, PnL: -0.5},
		// skips never count as trades
		{Side: domain.SideYes, Probability: 0.5, Action: domain.ActionSkip,
			EntryPrice: 0.5, Outcome: domain.OutcomeLoss},
	}

	sides := SummarizeBySide(rows)
	if len(sides) != 2 {
		t.Fatalf("expected 2 side summaries, got %d", len(sides))
	}
	if sides[0].Side != domain.SideYes || sides[1].Side != domain.SideNo {
		t.Errorf("expected YES before NO, got %s then %s", sides[0].Side, sides[1].Side)
	}

	yes := sides[0]
	if yes.Trades != 2 {
		t.Errorf("expected 2 YES trades, got %d", yes.Trades)
	}
	if yes.HitRate != 0.5 {
		t.Errorf("expected YES hit rate 0.5, got %v", yes.HitRate)
	}
	if math.Abs(yes.PnLTotal-(-0.1)) > 1e-12 {
		t.Errorf("expected YES pnl total -0.1, got %v", yes.PnLTotal)
	}
	if math.Abs(yes.AvgProb-0.7) > 1e-12 {
		t.Errorf("expected YES avg prob 0.7, got %v", yes.AvgProb)
	}

	no := sides[1]
	if no.Trades != 1 || no.PnLTotal != 0.4 || no.HitRate != 1 {
		t.Errorf("unexpected NO summary: %+v", no)
	}
}

func TestSummarizeBySide_NoTrades(t *testing.T) {
	rows := []*domain.BacktestRow{
		{Side: domain.SideYes, Action: domain.ActionSkip, Outcome: domain.OutcomeLoss},
	}
	if sides := SummarizeBySide(rows); len(sides) != 0 {
		t.Errorf("expected no side summaries without trades, got %d", len(sides))
	}
}
