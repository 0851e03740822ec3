package backtest

import (
	"errors"
	"fmt"

	"bracket-lab/internal/domain"
)

// DecisionRule turns a likelihood estimate and its contract into a Decision.
type DecisionRule interface {
	// Decide returns the decision for one contract. The estimate's
	// probability is the in-range probability of the bracket; the rule is
	// responsible for converting it to the side's win probability.
	Decide(estimate *domain.LikelihoodEstimate, contract *domain.ContractDef) domain.Decision

	// ID returns the rule identifier (includes parameters).
	ID() string
}

// Rule factory errors.
var (
	ErrUnknownRuleType = errors.New("unknown rule type")
	ErrMissingMinEdge  = errors.New("EDGE_THRESHOLD requires MinEdge")
	ErrMissingSize     = errors.New("EDGE_THRESHOLD requires Size")
)

// RuleConfig selects and parameterizes a decision rule.
type RuleConfig struct {
	RuleType          string   `yaml:"rule_type"`
	MinEdge           *float64 `yaml:"min_edge"`
	Size              *float64 `yaml:"size"`
	SkipLowConfidence bool     `yaml:"skip_low_confidence"`
}

// Rule type identifiers.
const (
	RuleTypeEdgeThreshold = "EDGE_THRESHOLD"
)

// RuleFromConfig creates a DecisionRule from config.
// Validates required parameters per rule type.
func RuleFromConfig(cfg RuleConfig) (DecisionRule, error) {
	switch cfg.RuleType {
	case RuleTypeEdgeThreshold:
		if cfg.MinEdge == nil {
			return nil, ErrMissingMinEdge
		}
		if cfg.Size == nil {
			return nil, ErrMissingSize
		}
		return NewEdgeThresholdRule(*cfg.MinEdge, *cfg.Size, cfg.SkipLowConfidence), nil
	default:
		return nil, ErrUnknownRuleType
	}
}

// EdgeThresholdRule buys a fixed size when the side's win probability
// exceeds the quoted price by at least MinEdge. Low-confidence estimates
// are skipped when SkipLowConfidence is set, never silently trusted.
type EdgeThresholdRule struct {
	MinEdge           float64
	Size              float64
	SkipLowConfidence bool
}

// NewEdgeThresholdRule creates a new EdgeThresholdRule.
func NewEdgeThresholdRule(minEdge, size float64, skipLowConfidence bool) *EdgeThresholdRule {
	return &EdgeThresholdRule{
		MinEdge:           minEdge,
		Size:              size,
		SkipLowConfidence: skipLowConfidence,
	}
}

// ID returns the rule identifier including parameters.
func (r *EdgeThresholdRule) ID() string {
	return fmt.Sprintf("EDGE_THRESHOLD_%.4f_%g", r.MinEdge, r.Size)
}

// Decide buys when edge = win probability - quoted price clears the
// threshold. Skipped contracts keep their entry price and edge so the row
// remains useful for calibration measurement.
func (r *EdgeThresholdRule) Decide(estimate *domain.LikelihoodEstimate, contract *domain.ContractDef) domain.Decision {
	winProb := WinProbability(estimate.Probability, contract.Side)
	entry := contract.QuotedPrice
	edge := winProb - entry

	d := domain.Decision{
		ContractID: contract.ContractID,
		Action:     domain.ActionSkip,
		EntryPrice: entry,
		Edge:       edge,
	}

	if r.SkipLowConfidence && estimate.LowConfidence {
		return d
	}
	if edge < r.MinEdge {
		return d
	}

	d.Action = domain.ActionBuy
	d.Size = r.Size
	return d
}

// WinProbability converts a bracket's in-range probability to the win
// probability of one side of it.
func WinProbability(inRange float64, side domain.Side) float64 {
	if side == domain.SideNo {
		return 1 - inRange
	}
	return inRange
}

var _ DecisionRule = (*EdgeThresholdRule)(nil)
