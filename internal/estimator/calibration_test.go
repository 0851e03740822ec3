package estimator

import (
	"math"
	"testing"
)

func TestIdentity_Passthrough(t *testing.T) {
	id := Identity{}
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		if got := id.Calibrate(p); got != p {
			t.Errorf("Identity changed %v to %v", p, got)
		}
	}
}

func TestPlatt_IdentityCoefficients(t *testing.T) {
	pl := Platt{A: 1, B: 0}
	for _, p := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		got := pl.Calibrate(p)
		if math.Abs(got-p) > 1e-9 {
			t.Errorf("Platt{1,0}(%v) = %v, want identity", p, got)
		}
	}
}

func TestPlatt_ShiftsTowardOutcomes(t *testing.T) {
	// Overconfident predictions: 0.9 hits only 60% of the time, 0.1 misses
	// only 60% of the time.
	probs := []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1, 0.1, 0.1, 0.1}
	outcomes := []float64{1, 1, 1, 0, 0, 0, 0, 0, 1, 1}

	pl, err := FitPlatt(probs, outcomes)
	if err != nil {
		t.Fatalf("FitPlatt failed: %v", err)
	}

	before := meanLogloss(probs, outcomes, Identity{})
	after := meanLogloss(probs, outcomes, pl)
	if after >= before {
		t.Errorf("Fitted Platt should reduce training logloss: %v -> %v", before, after)
	}

	// Overconfidence means the fitted map pulls 0.9 down and 0.1 up
	if pl.Calibrate(0.9) >= 0.9 {
		t.Errorf("Expected 0.9 calibrated below 0.9, got %v", pl.Calibrate(0.9))
	}
	if pl.Calibrate(0.1) <= 0.1 {
		t.Errorf("Expected 0.1 calibrated above 0.1, got %v", pl.Calibrate(0.1))
	}
}

func TestFitPlatt_RequiresBothClasses(t *testing.T) {
	if _, err := FitPlatt([]float64{0.6, 0.7}, []float64{1, 1}); err == nil {
		t.Errorf("Expected error when all outcomes are wins")
	}
	if _, err := FitPlatt([]float64{0.6, 0.7}, []float64{0, 0}); err == nil {
		t.Errorf("Expected error when all outcomes are losses")
	}
}

func TestFitPlatt_LengthMismatch(t *testing.T) {
	if _, err := FitPlatt([]float64{0.5}, []float64{1, 0}); err == nil {
		t.Errorf("Expected error on mismatched lengths")
	}
}

func TestFitIsotonic_PoolsViolators(t *testing.T) {
	// Sorted by probability: (0.1,0), (0.3,1), (0.4,0), (0.8,1).
	// The (0.3,1)/(0.4,0) violation pools to 0.5.
	probs := []float64{0.1, 0.4, 0.3, 0.8}
	outcomes := []float64{0, 0, 1, 1}

	iso, err := FitIsotonic(probs, outcomes)
	if err != nil {
		t.Fatalf("FitIsotonic failed: %v", err)
	}

	cases := []struct {
		in   float64
		want float64
	}{
		{0.05, 0},
		{0.1, 0},
		{0.35, 0.5},
		{0.4, 0.5},
		{0.8, 1},
		{0.95, 1},
	}
	for _, c := range cases {
		if got := iso.Calibrate(c.in); got != c.want {
			t.Errorf("Calibrate(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsotonic_MonotoneOutput(t *testing.T) {
	probs := []float64{0.9, 0.2, 0.5, 0.7, 0.1, 0.4, 0.6, 0.3, 0.8}
	outcomes := []float64{1, 0, 1, 0, 0, 1, 1, 0, 1}

	iso, err := FitIsotonic(probs, outcomes)
	if err != nil {
		t.Fatalf("FitIsotonic failed: %v", err)
	}

	prev := math.Inf(-1)
	for p := 0.0; p <= 1.0; p += 0.01 {
		got := iso.Calibrate(p)
		if got < prev {
			t.Fatalf("Non-monotone output at %v: %v < %v", p, got, prev)
		}
		prev = got
	}
}

func TestFitIsotonic_Empty(t *testing.T) {
	if _, err := FitIsotonic(nil, nil); err == nil {
		t.Errorf("Expected error on empty input")
	}
}

func meanLogloss(probs, outcomes []float64, cal Calibrator) float64 {
	var total float64
	for i, p := range probs {
		c := Clip(cal.Calibrate(p))
		y := outcomes[i]
		total += -(y*math.Log(c) + (1-y)*math.Log(1-c))
	}
	return total / float64(len(probs))
}
