package score

import (
	"math"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/stats"
)

const (
	MaxScore      = 10.0
	ReversalBoost = 1.1
	minZFactor    = 0.75
	zSaturation   = 3.0
)

// BaseScore maps a movement in percentage points to 0–10. Piecewise linear,
// non-decreasing, saturating at 20pp.
func BaseScore(movementPp float64) float64 {
	x := math.Abs(stats.Finite(movementPp))
	switch {
	case x < 1:
		return x
	case x < 5:
		return 1 + (x-1)*0.875
	case x < 10:
		return 4.5 + (x-5)*0.5
	case x < 20:
		return 7 + (x-10)*0.3
	default:
		return MaxScore
	}
}

// VolumeMultiplier scales by where the top market's platform volume share
// r = topUSD/platformUSD falls between the rLo and rHi bands, square-root
// compressed. Zero volume on either side gives 0.
func VolumeMultiplier(topUSD, platformUSD, rLo, rHi float64) float64 {
	if topUSD <= 0 || platformUSD <= 0 {
		return 0
	}
	r := stats.SafeDiv(topUSD, platformUSD)
	span := rHi - rLo
	if span <= 0 {
		if r >= rHi {
			return 1
		}
		return 0
	}
	return math.Sqrt(stats.Clamp((r-rLo)/span, 0, 1))
}

// ZFactor dampens moves that sit within the market's normal volatility.
// stddevPp is the baseline stddev in percentage points; the penalty is at
// most 25% and vanishes at three standard deviations.
func ZFactor(movementPp, stddevPp float64) float64 {
	std := stats.Floor(stddevPp, models.StddevFloor*100)
	z := math.Abs(stats.Finite(movementPp)) / std
	return stats.Clamp(minZFactor+0.25*math.Min(z/zSaturation, 1), minZFactor, 1)
}

// ReversalBonus returns 1.1 when the price crossed the 0.5 boundary between
// open and close.
func ReversalBonus(open, close float64) float64 {
	if (open < 0.5) != (close < 0.5) {
		return ReversalBoost
	}
	return 1
}

// Combine multiplies the factors, rounds to one decimal and clamps to [0, 10].
func Combine(base, volumeMultiplier, zFactor, reversalBonus float64) float64 {
	v := stats.Finite(base * volumeMultiplier * zFactor * reversalBonus)
	return stats.Clamp(stats.Round1(v), 0, MaxScore)
}
