package domain

// Side identifies which side of a bracket contract a position takes.
type Side string

// Contract sides.
const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ContractDef represents one tradable bracket at a point in time.
// Open-ended brackets use math.Inf(-1) for StrikeFloor or math.Inf(1)
// for StrikeCap.
type ContractDef struct {
	ContractID  string  // deterministic hash
	Ticker      string  // venue market ticker (optional, informational)
	StrikeFloor float64 // settlement range lower bound (inclusive)
	StrikeCap   float64 // settlement range upper bound (inclusive)
	Side        Side    // YES | NO
	QuotedPrice float64 // entry quote for the side, in [0, 1]
}

// MarketEvent represents one discrete decision opportunity: a trading day
// with its bracket contracts. Created by the event enumerator, consumed
// read-only by the backtest engine, not persisted beyond output rows.
type MarketEvent struct {
	EventID        string        // deterministic hash
	RunDate        int64         // decision timestamp, Unix seconds (UTC); the leakage boundary
	SettlementDate int64         // outcome timestamp, Unix seconds (UTC)
	Contracts      []ContractDef // contract-definition order is preserved into output rows
}
