package domain

// Action is the decision taken for one contract at one event.
type Action string

// Decision actions.
const (
	ActionBuy  Action = "BUY"
	ActionSkip Action = "SKIP"
)

// Decision represents the outcome of applying a decision rule to one
// contract's likelihood estimate.
type Decision struct {
	EventID    string  // owning event
	ContractID string  // contract decided on
	Action     Action  // BUY | SKIP
	Size       float64 // contracts bought; 0 for SKIP
	EntryPrice float64 // price paid per contract for the taken side, in [0, 1]
	Edge       float64 // win probability minus entry price
}
