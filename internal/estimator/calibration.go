package estimator

import (
	"fmt"
	"math"
	"sort"
)

// Calibrator maps a raw probability to a calibrated one. Calibrators compose
// with the empirical estimator: the estimator computes the raw CDF lookup,
// the calibrator reshapes it, and clipping is applied after.
type Calibrator interface {
	Calibrate(p float64) float64
}

// Identity leaves probabilities unchanged.
type Identity struct{}

func (Identity) Calibrate(p float64) float64 { return p }

// Platt applies sigmoid(A*logit(p) + B). A=1, B=0 is the identity.
type Platt struct {
	A float64
	B float64
}

func (pl Platt) Calibrate(p float64) float64 {
	z := logit(Clip(p))
	return sigmoid(pl.A*z + pl.B)
}

// FitPlatt fits Platt coefficients by Newton iteration on (probability,
// outcome) pairs from a finished run. Outcomes must be 0 or 1 and both
// classes must be present. Targets use Platt's standard smoothing so a
// perfectly separable input cannot push the coefficients to infinity.
func FitPlatt(probs, outcomes []float64) (*Platt, error) {
	if len(probs) != len(outcomes) {
		return nil, fmt.Errorf("fit platt: %d probabilities vs %d outcomes", len(probs), len(outcomes))
	}
	if len(probs) < 2 {
		return nil, fmt.Errorf("fit platt: need at least 2 samples, got %d", len(probs))
	}

	var nPos, nNeg float64
	for _, y := range outcomes {
		if y >= 0.5 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return nil, fmt.Errorf("fit platt: need both outcome classes (%v wins, %v losses)", nPos, nNeg)
	}
	tPos := (nPos + 1) / (nPos + 2)
	tNeg := 1 / (nNeg + 2)

	zs := make([]float64, len(probs))
	ts := make([]float64, len(probs))
	for i, p := range probs {
		zs[i] = logit(Clip(p))
		if outcomes[i] >= 0.5 {
			ts[i] = tPos
		} else {
			ts[i] = tNeg
		}
	}

	a, b := 1.0, 0.0
	for iter := 0; iter < 100; iter++ {
		var g0, g1, h00, h01, h11 float64
		for i, z := range zs {
			p := sigmoid(a*z + b)
			d := p - ts[i]
			w := p * (1 - p)
			g0 += d * z
			g1 += d
			h00 += w * z * z
			h01 += w * z
			h11 += w
		}
		det := h00*h11 - h01*h01
		if math.Abs(det) < 1e-12 {
			break
		}
		da := (g0*h11 - g1*h01) / det
		db := (g1*h00 - g0*h01) / det
		a -= da
		b -= db
		if math.Abs(da) < 1e-10 && math.Abs(db) < 1e-10 {
			break
		}
	}

	return &Platt{A: a, B: b}, nil
}

// Isotonic is a monotone step-function calibrator fitted by pool-adjacent
// violators. Calibrate returns the fitted value of the block containing p.
type Isotonic struct {
	thresholds []float64 // ascending block start probabilities
	values     []float64 // nondecreasing fitted values
}

func (iso *Isotonic) Calibrate(p float64) float64 {
	if len(iso.thresholds) == 0 {
		return p
	}
	idx := sort.SearchFloat64s(iso.thresholds, p)
	if idx == len(iso.thresholds) || iso.thresholds[idx] > p {
		idx--
	}
	if idx < 0 {
		idx = 0
	}
	return iso.values[idx]
}

// FitIsotonic fits a nondecreasing calibration map on (probability, outcome)
// pairs from a finished run.
func FitIsotonic(probs, outcomes []float64) (*Isotonic, error) {
	if len(probs) != len(outcomes) {
		return nil, fmt.Errorf("fit isotonic: %d probabilities vs %d outcomes", len(probs), len(outcomes))
	}
	if len(probs) == 0 {
		return nil, fmt.Errorf("fit isotonic: no samples")
	}

	type pair struct{ x, y float64 }
	pairs := make([]pair, len(probs))
	for i := range probs {
		pairs[i] = pair{x: probs[i], y: outcomes[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	type pool struct {
		sumY   float64
		n      float64
		xStart float64
	}
	var pools []pool
	for _, pr := range pairs {
		pools = append(pools, pool{sumY: pr.y, n: 1, xStart: pr.x})
		// Merge backwards while the monotone constraint is violated
		for len(pools) >= 2 {
			last := pools[len(pools)-1]
			prev := pools[len(pools)-2]
			if last.sumY/last.n >= prev.sumY/prev.n {
				break
			}
			merged := pool{
				sumY:   prev.sumY + last.sumY,
				n:      prev.n + last.n,
				xStart: prev.xStart,
			}
			pools = pools[:len(pools)-2]
			pools = append(pools, merged)
		}
	}

	iso := &Isotonic{
		thresholds: make([]float64, len(pools)),
		values:     make([]float64, len(pools)),
	}
	for i, pl := range pools {
		iso.thresholds[i] = pl.xStart
		iso.values[i] = pl.sumY / pl.n
	}
	return iso, nil
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
