package domain

import "fmt"

// KPI metric names. The set is fixed: every KPIVector carries exactly these
// keys, and the run comparator refuses vectors that deviate.
const (
	KPIPnLTotal    = "pnl_total"
	KPIPnLAvg      = "pnl_avg"
	KPIPnLStd      = "pnl_std"
	KPISharpeLike  = "sharpe_like"
	KPIMaxDrawdown = "max_drawdown"
	KPIHitRate     = "hit_rate"
	KPIAvgEdge     = "avg_edge"
	KPIEdgePnLCorr = "edge_pnl_corr"
	KPIBrierMean   = "brier_mean"
	KPILoglossMean = "logloss_mean"
	KPIECE         = "ece"
)

// KPIKeys lists all KPI metric names in canonical report order.
var KPIKeys = []string{
	KPIPnLTotal,
	KPIPnLAvg,
	KPIPnLStd,
	KPISharpeLike,
	KPIMaxDrawdown,
	KPIHitRate,
	KPIAvgEdge,
	KPIEdgePnLCorr,
	KPIBrierMean,
	KPILoglossMean,
	KPIECE,
}

// KPIVector is the canonical metric set of one backtest run. Immutable once
// computed; iterate in KPIKeys order for deterministic output.
type KPIVector map[string]float64

// Validate checks that the vector carries exactly the fixed KPI key set.
func (v KPIVector) Validate() error {
	for _, key := range KPIKeys {
		if _, ok := v[key]; !ok {
			return fmt.Errorf("kpi vector missing key %q", key)
		}
	}
	if len(v) != len(KPIKeys) {
		for key := range v {
			if !IsKPIKey(key) {
				return fmt.Errorf("kpi vector has unknown key %q", key)
			}
		}
	}
	return nil
}

// IsKPIKey reports whether name is one of the fixed KPI metric names.
func IsKPIKey(name string) bool {
	for _, key := range KPIKeys {
		if key == name {
			return true
		}
	}
	return false
}
