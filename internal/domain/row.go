package domain

// Outcome is the realized result of one simulated decision.
type Outcome string

// Realized outcomes. UNSETTLED marks rows whose settlement data was
// unavailable when resolution was attempted; such rows carry zero pnl and
// are counted as a data-quality signal rather than dropped.
const (
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeUnsettled Outcome = "UNSETTLED"
)

// BacktestRow is one row of backtest output: one simulated decision with
// its realized outcome. Rows are emitted in event order and, within an
// event, in contract-definition order; that ordering is part of the output
// contract.
// Corresponds to the backtest_rows table in PostgreSQL.
type BacktestRow struct {
	RunID      string // owning backtest run
	Seq        int    // emission index within the run, starting at 0
	EventID    string // owning event
	ContractID string // contract decided on

	// Decision
	Side          Side    // side the position takes
	Probability   float64 // win probability for the side, clipped to [eps, 1-eps]
	LowConfidence bool    // estimator confidence flag, propagated
	Action        Action  // BUY | SKIP
	Size          float64 // contracts bought; 0 for SKIP
	EntryPrice    float64 // price paid per contract, in [0, 1]
	Edge          float64 // probability - entry price

	// Outcome
	Outcome         Outcome // WIN | LOSS | UNSETTLED
	SettlementValue float64 // underlying value used for resolution; 0 when unsettled
	PnL             float64 // realized profit and loss; 0 for SKIP and UNSETTLED
}

// Settled reports whether the row's outcome is known.
func (r *BacktestRow) Settled() bool {
	return r.Outcome == OutcomeWin || r.Outcome == OutcomeLoss
}

// OutcomeValue returns the binary outcome used by calibration metrics:
// 1 for WIN, 0 for LOSS. Callers must check Settled first.
func (r *BacktestRow) OutcomeValue() float64 {
	if r.Outcome == OutcomeWin {
		return 1
	}
	return 0
}
