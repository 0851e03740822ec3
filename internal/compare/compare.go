package compare

import (
	"errors"
	"fmt"

	"bracket-lab/internal/domain"
)

// ErrSchemaMismatch is returned when the two KPI vectors do not carry the
// identical fixed key set. No partial report is produced.
var ErrSchemaMismatch = errors.New("kpi schema mismatch")

// ComparisonRow is one KPI's delta between two runs.
type ComparisonRow struct {
	Key       string  `json:"key"`
	Baseline  float64 `json:"baseline"`
	Candidate float64 `json:"candidate"`
	AbsDelta  float64 `json:"abs_delta"`

	// PctDelta is AbsDelta / Baseline. PctValid is false when the baseline
	// is zero and the relative delta is undefined; renderers print N/A.
	PctDelta float64 `json:"pct_delta"`
	PctValid bool    `json:"pct_valid"`
}

// ComparisonReport holds one row per KPI key in canonical order. The run
// labels are filled in by the caller, which knows where the vectors came
// from.
type ComparisonReport struct {
	BaselineLabel  string          `json:"baseline_label"`
	CandidateLabel string          `json:"candidate_label"`
	Rows           []ComparisonRow `json:"rows"`
}

// Compare builds the per-KPI delta report between a baseline and a
// candidate vector. Both must carry exactly the fixed KPI key set; any
// missing or unknown key fails the whole comparison.
func Compare(baseline, candidate domain.KPIVector) (*ComparisonReport, error) {
	if err := baseline.Validate(); err != nil {
		return nil, fmt.Errorf("%w: baseline: %v", ErrSchemaMismatch, err)
	}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: candidate: %v", ErrSchemaMismatch, err)
	}

	rows := make([]ComparisonRow, 0, len(domain.KPIKeys))
	for _, key := range domain.KPIKeys {
		base := baseline[key]
		cand := candidate[key]
		row := ComparisonRow{
			Key:       key,
			Baseline:  base,
			Candidate: cand,
			AbsDelta:  cand - base,
		}
		if base != 0 {
			row.PctDelta = row.AbsDelta / base
			row.PctValid = true
		}
		rows = append(rows, row)
	}
	return &ComparisonReport{Rows: rows}, nil
}
