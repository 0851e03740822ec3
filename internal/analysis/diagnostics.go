package analysis

import (
	"math/rand"
	"sort"

	"bracket-lab/internal/domain"
)

// Bootstrap defaults. The fixed seed makes the interval reproducible for
// identical inputs.
const (
	DefaultBootstrapSamples = 2000
	DefaultBootstrapSeed    = 7
)

// EdgeDiagnostics summarizes how realized pnl lines up with the edge the
// decision rule saw, over traded settled rows.
type EdgeDiagnostics struct {
	PositiveCount      int     `json:"n_edge_positive"`
	NonPositiveCount   int     `json:"n_edge_non_positive"`
	EdgePnLCorr        float64 `json:"corr_edge_pnl"`
	MeanPnLPositive    float64 `json:"mean_pnl_edge_positive"`
	MeanPnLNonPositive float64 `json:"mean_pnl_edge_non_positive"`
	HitRatePositive    float64 `json:"hit_rate_edge_positive"`
	HitRateNonPositive float64 `json:"hit_rate_edge_non_positive"`
}

// DiagnoseEdge computes edge diagnostics over traded settled rows. Empty
// groups report zero means, with counts showing why.
func DiagnoseEdge(rows []*domain.BacktestRow) EdgeDiagnostics {
	var (
		edges, pnls      []float64
		posPnLs, nonPnLs []float64
		posWins, nonWins int
	)
	for _, r := range rows {
		if r.Action != domain.ActionBuy || !r.Settled() {
			continue
		}
		edges = append(edges, r.Edge)
		pnls = append(pnls, r.PnL)
		if r.Edge > 0 {
			posPnLs = append(posPnLs, r.PnL)
			if r.Outcome == domain.OutcomeWin {
				posWins++
			}
		} else {
			nonPnLs = append(nonPnLs, r.PnL)
			if r.Outcome == domain.OutcomeWin {
				nonWins++
			}
		}
	}

	d := EdgeDiagnostics{
		PositiveCount:      len(posPnLs),
		NonPositiveCount:   len(nonPnLs),
		EdgePnLCorr:        pearson(edges, pnls),
		MeanPnLPositive:    mean(posPnLs),
		MeanPnLNonPositive: mean(nonPnLs),
	}
	if len(posPnLs) > 0 {
		d.HitRatePositive = float64(posWins) / float64(len(posPnLs))
	}
	if len(nonPnLs) > 0 {
		d.HitRateNonPositive = float64(nonWins) / float64(len(nonPnLs))
	}
	return d
}

// BootstrapMeanPnLCI returns the seeded bootstrap 95% confidence interval
// (2.5 and 97.5 percentiles) of mean pnl over settled rows. Zeroes when no
// row is settled. Identical rows and seed produce an identical interval.
func BootstrapMeanPnLCI(rows []*domain.BacktestRow, samples int, seed int64) (lo, hi float64) {
	var pnls []float64
	for _, r := range rows {
		if r.Settled() {
			pnls = append(pnls, r.PnL)
		}
	}
	n := len(pnls)
	if n == 0 {
		return 0, 0
	}
	if samples <= 0 {
		samples = DefaultBootstrapSamples
	}

	rng := rand.New(rand.NewSource(seed))
	means := make([]float64, samples)
	for b := 0; b < samples; b++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += pnls[rng.Intn(n)]
		}
		means[b] = sum / float64(n)
	}
	sort.Float64s(means)
	return percentile(means, 0.025), percentile(means, 0.975)
}

// SideSummary aggregates traded settled rows of one contract side.
type SideSummary struct {
	Side     domain.Side `json:"side"`
	Trades   int         `json:"trades"`
	HitRate  float64     `json:"hit_rate"`
	AvgProb  float64     `json:"avg_prob"`
	AvgEntry float64     `json:"avg_entry_price"`
	AvgEdge  float64     `json:"avg_edge"`
	AvgPnL   float64     `json:"avg_pnl"`
	PnLTotal float64     `json:"pnl_total"`
}

// SummarizeBySide groups traded settled rows by side, YES before NO. Sides
// without trades are omitted.
func SummarizeBySide(rows []*domain.BacktestRow) []SideSummary {
	type acc struct {
		trades                 int
		wins                   int
		prob, entry, edge, pnl float64
	}
	bySide := make(map[domain.Side]*acc)
	for _, r := range rows {
		if r.Action != domain.ActionBuy || !r.Settled() {
			continue
		}
		a := bySide[r.Side]
		if a == nil {
			a = &acc{}
			bySide[r.Side] = a
		}
		a.trades++
		if r.Outcome == domain.OutcomeWin {
			a.wins++
		}
		a.prob += r.Probability
		a.entry += r.EntryPrice
		a.edge += r.Edge
		a.pnl += r.PnL
	}

	var out []SideSummary
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		a := bySide[side]
		if a == nil {
			continue
		}
		n := float64(a.trades)
		out = append(out, SideSummary{
			Side:     side,
			Trades:   a.trades,
			HitRate:  float64(a.wins) / n,
			AvgProb:  a.prob / n,
			AvgEntry: a.entry / n,
			AvgEdge:  a.edge / n,
			AvgPnL:   a.pnl / n,
			PnLTotal: a.pnl,
		})
	}
	return out
}
