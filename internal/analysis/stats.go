package analysis

import "math"

// mean returns the arithmetic mean, 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStddev returns the sample standard deviation (n-1 denominator),
// 0 with fewer than two samples.
func sampleStddev(xs []float64, mu float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		diff := x - mu
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// pearson returns the Pearson correlation of two equal-length series,
// 0 when either side has zero variance or fewer than two points.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	mx := mean(xs)
	my := mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// percentile uses linear interpolation.
// sorted must be pre-sorted ASC. p is the percentile (0.025 = 2.5th).
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// maxDrawdown calculates the worst peak-to-trough decline of the
// cumulative sum. Values must be in chronological order.
func maxDrawdown(pnls []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	worst := 0.0
	for _, p := range pnls {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if drawdown := peak - cumulative; drawdown > worst {
			worst = drawdown
		}
	}
	return worst
}
