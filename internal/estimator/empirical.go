package estimator

import (
	"errors"
	"fmt"

	"bracket-lab/internal/domain"
)

// ErrLeakageViolation is returned when an estimate would be built from data
// at or after its event's run date. The input filter makes this unreachable
// in correct use; the check stays as a contract assertion.
var ErrLeakageViolation = errors.New("leakage violation: reference data at or after run date")

// Default estimator configuration.
const (
	// Epsilon bounds probabilities away from 0 and 1 so log-loss stays finite.
	Epsilon = 1e-9

	DefaultMinSamples = 30
)

// Empirical estimates in-range settlement probabilities from the empirical
// distribution of historical horizon-length moves. No parametric fit: each
// probability is a CDF lookup over observed moves.
type Empirical struct {
	granularityMinutes int
	minSamples         int
	calibrator         Calibrator
}

// EmpiricalOptions contains configuration for creating an Empirical estimator.
type EmpiricalOptions struct {
	GranularityMinutes int
	MinSamples         int
	Calibrator         Calibrator
}

// NewEmpirical creates an empirical estimator.
func NewEmpirical(opts EmpiricalOptions) *Empirical {
	granularity := opts.GranularityMinutes
	if granularity <= 0 {
		granularity = domain.GranularityDay
	}
	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	calibrator := opts.Calibrator
	if calibrator == nil {
		calibrator = Identity{}
	}
	return &Empirical{
		granularityMinutes: granularity,
		minSamples:         minSamples,
		calibrator:         calibrator,
	}
}

// Estimate returns one LikelihoodEstimate per contract, in contract order.
// Only candles with timestamp strictly before event.RunDate contribute;
// anything at or after it is discarded before any number is computed.
func (e *Empirical) Estimate(event *domain.MarketEvent, reference []*domain.Candle) ([]*domain.LikelihoodEstimate, error) {
	if event == nil {
		return nil, fmt.Errorf("estimate: nil event")
	}

	usable := make([]*domain.Candle, 0, len(reference))
	for _, c := range reference {
		if c != nil && c.Timestamp < event.RunDate {
			usable = append(usable, c)
		}
	}
	for _, c := range usable {
		if c.Timestamp >= event.RunDate {
			return nil, fmt.Errorf("%w: candle at %d, run date %d", ErrLeakageViolation, c.Timestamp, event.RunDate)
		}
	}

	horizon := e.horizonPeriods(event)
	moves := horizonMoves(usable, horizon)

	var refStart int64
	if len(usable) > 0 {
		refStart = usable[0].Timestamp
	}
	refPrice := 0.0
	if len(usable) > 0 {
		refPrice = usable[len(usable)-1].Close
	}

	estimates := make([]*domain.LikelihoodEstimate, 0, len(event.Contracts))
	for i := range event.Contracts {
		contract := &event.Contracts[i]
		p := e.inRangeProbability(refPrice, moves, contract.StrikeFloor, contract.StrikeCap)
		p = Clip(e.calibrator.Calibrate(p))

		estimates = append(estimates, &domain.LikelihoodEstimate{
			ContractID:     contract.ContractID,
			Probability:    p,
			ReferenceStart: refStart,
			ReferenceEnd:   event.RunDate,
			SampleCount:    len(moves),
			LowConfidence:  len(moves) < e.minSamples,
		})
	}
	return estimates, nil
}

// horizonPeriods converts the event's run-to-settlement span into a number
// of candle periods, never less than one.
func (e *Empirical) horizonPeriods(event *domain.MarketEvent) int {
	periodSeconds := int64(e.granularityMinutes) * 60
	span := event.SettlementDate - event.RunDate
	if span <= periodSeconds {
		return 1
	}
	h := (span + periodSeconds/2) / periodSeconds
	return int(h)
}

// horizonMoves returns the observed close-to-close ratios across spans of
// exactly h periods. Overlapping spans all contribute.
func horizonMoves(candles []*domain.Candle, h int) []float64 {
	if h < 1 || len(candles) <= h {
		return nil
	}
	moves := make([]float64, 0, len(candles)-h)
	for i := 0; i+h < len(candles); i++ {
		from := candles[i].Close
		to := candles[i+h].Close
		if from <= 0 {
			continue
		}
		moves = append(moves, to/from)
	}
	return moves
}

// inRangeProbability is the empirical CDF lookup: the fraction of observed
// moves that would land the reference price inside [floor, cap], bounds
// inclusive. With no samples it returns the maximum-entropy 0.5; callers see
// the low-confidence flag alongside.
func (e *Empirical) inRangeProbability(refPrice float64, moves []float64, floor, cap float64) float64 {
	if len(moves) == 0 || refPrice <= 0 {
		return 0.5
	}
	hits := 0
	for _, r := range moves {
		projected := refPrice * r
		if projected >= floor && projected <= cap {
			hits++
		}
	}
	return float64(hits) / float64(len(moves))
}

// Clip bounds p to [Epsilon, 1-Epsilon].
func Clip(p float64) float64 {
	if p < Epsilon {
		return Epsilon
	}
	if p > 1-Epsilon {
		return 1 - Epsilon
	}
	return p
}
