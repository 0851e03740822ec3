package analysis

import (
	"fmt"
	"math"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/domain"
)

// FormulaTolerance bounds the allowed drift when re-deriving row values
// from their primary fields.
const FormulaTolerance = 1e-8

// CheckResult is the outcome of one sanity check over a run's rows.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// RunChecks validates structural invariants of a run's rows: value bounds,
// enum validity, key uniqueness and re-derivation of edge and pnl from the
// primary fields. When kpis is non-nil the aggregate brier is re-derived as
// well. fees must be the model the run was executed with; nil means no fees.
func RunChecks(rows []*domain.BacktestRow, kpis domain.KPIVector, fees backtest.FeeModel) []CheckResult {
	if fees == nil {
		fees = backtest.NoFee{}
	}

	var checks []CheckResult
	checks = append(checks, boundsCheck("prob_in_[0,1]", rows,
		func(r *domain.BacktestRow) float64 { return r.Probability }))
	checks = append(checks, boundsCheck("entry_price_in_[0,1]", rows,
		func(r *domain.BacktestRow) float64 { return r.EntryPrice }))

	invalidSides := 0
	for _, r := range rows {
		if r.Side != domain.SideYes && r.Side != domain.SideNo {
			invalidSides++
		}
	}
	checks = append(checks, CheckResult{
		Name:    "side_is_yes_or_no",
		Passed:  invalidSides == 0,
		Details: fmt.Sprintf("invalid_rows=%d", invalidSides),
	})

	invalidOutcomes := 0
	for _, r := range rows {
		switch r.Outcome {
		case domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeUnsettled:
		default:
			invalidOutcomes++
		}
	}
	checks = append(checks, CheckResult{
		Name:    "outcome_is_valid",
		Passed:  invalidOutcomes == 0,
		Details: fmt.Sprintf("invalid_rows=%d", invalidOutcomes),
	})

	seen := make(map[string]bool, len(rows))
	duplicates := 0
	for _, r := range rows {
		key := r.EventID + "|" + r.ContractID
		if seen[key] {
			duplicates++
		}
		seen[key] = true
	}
	checks = append(checks, CheckResult{
		Name:    "no_duplicate_event_contract_rows",
		Passed:  duplicates == 0,
		Details: fmt.Sprintf("duplicates=%d", duplicates),
	})

	checks = append(checks, deltaCheck("edge_rederivation", rows,
		func(r *domain.BacktestRow) (float64, float64) {
			return r.Edge, r.Probability - r.EntryPrice
		}))
	checks = append(checks, deltaCheck("pnl_rederivation", rows,
		func(r *domain.BacktestRow) (float64, float64) {
			return r.PnL, expectedPnL(r, fees)
		}))

	if kpis != nil {
		checks = append(checks, brierCheck(rows, kpis))
	}
	return checks
}

// boundsCheck counts rows whose field value falls outside [0, 1].
func boundsCheck(name string, rows []*domain.BacktestRow, field func(*domain.BacktestRow) float64) CheckResult {
	below := 0
	above := 0
	for _, r := range rows {
		v := field(r)
		if v < 0 {
			below++
		}
		if v > 1 {
			above++
		}
	}
	return CheckResult{
		Name:    name,
		Passed:  below == 0 && above == 0,
		Details: fmt.Sprintf("below=%d, above=%d, bounds=[0, 1]", below, above),
	}
}

// deltaCheck re-derives one value per row and counts rows whose stored
// value drifts past FormulaTolerance.
func deltaCheck(name string, rows []*domain.BacktestRow, derive func(*domain.BacktestRow) (got, want float64)) CheckResult {
	maxDelta := 0.0
	badRows := 0
	for _, r := range rows {
		got, want := derive(r)
		delta := math.Abs(got - want)
		if delta > maxDelta {
			maxDelta = delta
		}
		if delta > FormulaTolerance {
			badRows++
		}
	}
	return CheckResult{
		Name:    name,
		Passed:  badRows == 0,
		Details: fmt.Sprintf("max_delta=%.12g, rows_over_tolerance=%d", maxDelta, badRows),
	}
}

// expectedPnL re-derives pnl from the decision fields. SKIP and UNSETTLED
// rows carry zero pnl by contract.
func expectedPnL(r *domain.BacktestRow, fees backtest.FeeModel) float64 {
	if r.Action != domain.ActionBuy || !r.Settled() {
		return 0
	}
	fee := fees.Fee(r.Size, r.EntryPrice)
	if r.Outcome == domain.OutcomeWin {
		return r.Size*(1-r.EntryPrice) - fee
	}
	return -r.Size*r.EntryPrice - fee
}

// brierCheck re-derives brier_mean from the rows and compares it against
// the aggregated KPI.
func brierCheck(rows []*domain.BacktestRow, kpis domain.KPIVector) CheckResult {
	sum := 0.0
	settled := 0
	for _, r := range rows {
		if !r.Settled() {
			continue
		}
		diff := r.Probability - r.OutcomeValue()
		sum += diff * diff
		settled++
	}
	want := 0.0
	if settled > 0 {
		want = sum / float64(settled)
	}
	delta := math.Abs(kpis[domain.KPIBrierMean] - want)
	return CheckResult{
		Name:    "brier_mean_rederivation",
		Passed:  delta <= FormulaTolerance,
		Details: fmt.Sprintf("delta=%.12g", delta),
	}
}
