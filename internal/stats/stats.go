package stats

import "math"

// Clamp bounds x to [lo, hi]. NaN maps to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Finite replaces NaN and ±Inf with 0.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Floor returns max(x, min), mapping NaN to min.
func Floor(x, min float64) float64 {
	if math.IsNaN(x) || x < min {
		return min
	}
	return x
}

// SafeDiv returns num/den, or 0 when den is zero or the result is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return Finite(num / den)
}

// Quantile returns the nearest-rank (floor) p-quantile of an ascending slice.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	p = Clamp(p, 0, 1)
	idx := int(math.Floor(p * float64(n-1)))
	return sorted[idx]
}

// EMA smooths raw against prev. When prev is not positive the series is
// seeded with raw.
func EMA(prev, raw, alpha float64) float64 {
	if prev <= 0 || math.IsNaN(prev) {
		return raw
	}
	return alpha*raw + (1-alpha)*prev
}

// Round1 rounds to one decimal place.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}
