package stats

import (
	"math"
	"testing"
)

func TestMeanStddev(t *testing.T) {
	tests := []struct {
		name     string
		xs       []float64
		wantMean float64
		wantStd  float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{3}, 3, 0},
		{"population", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2},
		{"constant", []float64{0.5, 0.5, 0.5}, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, std := MeanStddev(tt.xs)
			if math.Abs(mean-tt.wantMean) > 1e-12 {
				t.Errorf("mean = %v, want %v", mean, tt.wantMean)
			}
			if math.Abs(std-tt.wantStd) > 1e-12 {
				t.Errorf("stddev = %v, want %v", std, tt.wantStd)
			}
		})
	}
}

func TestSimpleReturns(t *testing.T) {
	got := SimpleReturns([]float64{0.5, 0.55, 0, 0.2, 0.1})
	want := []float64{0.1, -1, -0.5}
	if len(got) != len(want) {
		t.Fatalf("got %d returns, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("return[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if SimpleReturns([]float64{0.4}) != nil {
		t.Error("single price should yield no returns")
	}
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := Quantile(sorted, 0.4); got != 4 {
		t.Errorf("p40 = %v, want 4", got)
	}
	if got := Quantile(sorted, 0.9); got != 9 {
		t.Errorf("p90 = %v, want 9", got)
	}
	if got := Quantile(sorted, 1); got != 10 {
		t.Errorf("p100 = %v, want 10", got)
	}
	if got := Quantile(nil, 0.5); got != 0 {
		t.Errorf("empty quantile = %v, want 0", got)
	}
}

func TestEMA(t *testing.T) {
	if got := EMA(0, 0.004, 0.3); got != 0.004 {
		t.Errorf("seeded EMA = %v, want raw", got)
	}
	got := EMA(0.002, 0.004, 0.3)
	if math.Abs(got-0.0026) > 1e-12 {
		t.Errorf("EMA = %v, want 0.0026", got)
	}
}

func TestGuards(t *testing.T) {
	if got := SafeDiv(1, 0); got != 0 {
		t.Errorf("SafeDiv(1, 0) = %v", got)
	}
	if got := Finite(math.Inf(1)); got != 0 {
		t.Errorf("Finite(+Inf) = %v", got)
	}
	if got := Clamp(math.NaN(), 0, 10); got != 0 {
		t.Errorf("Clamp(NaN) = %v", got)
	}
	if got := Clamp(12, 0, 10); got != 10 {
		t.Errorf("Clamp(12) = %v", got)
	}
	if got := Floor(0, 0.001); got != 0.001 {
		t.Errorf("Floor(0) = %v", got)
	}
	if got := Round1(8.36); got != 8.4 {
		t.Errorf("Round1(8.36) = %v", got)
	}
}
