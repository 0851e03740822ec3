package domain

// LikelihoodEstimate holds the empirical probability that the underlying
// settles inside a contract's range, together with the reference window the
// estimate was computed from.
//
// Invariant: ReferenceEnd <= the owning event's RunDate. An estimate whose
// reference window reaches the run date is a leakage defect, not a valid
// estimate.
type LikelihoodEstimate struct {
	ContractID     string  // contract the estimate belongs to
	Probability    float64 // P(settlement value within [StrikeFloor, StrikeCap])
	ReferenceStart int64   // reference window start, Unix seconds (inclusive)
	ReferenceEnd   int64   // reference window end, Unix seconds (exclusive)
	SampleCount    int     // historical moves the probability was estimated from
	LowConfidence  bool    // set when SampleCount is below the estimator minimum
}
