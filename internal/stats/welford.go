// Package stats holds the numeric helpers shared by the pipeline. None of them
// return NaN or Inf for finite input.
package stats

import "math"

// Welford accumulates mean and variance in one pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Add folds x into the running statistics.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Variance returns the population variance.
func (w *Welford) Variance() float64 {
	if w.Count < 1 {
		return 0
	}
	v := w.M2 / float64(w.Count)
	if v < 0 {
		return 0
	}
	return v
}

// Stddev returns the population standard deviation.
func (w *Welford) Stddev() float64 {
	return math.Sqrt(w.Variance())
}

// MeanStddev returns the mean and population stddev of xs.
func MeanStddev(xs []float64) (float64, float64) {
	var w Welford
	for _, x := range xs {
		w.Add(x)
	}
	return w.Mean, w.Stddev()
}

// SimpleReturns returns (curr-prev)/prev for consecutive prices, skipping
// pairs whose previous price is not positive.
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}
