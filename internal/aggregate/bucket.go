package aggregate

import (
	"math"

	"github.com/rewired-gh/seismo/internal/models"
)

// point is one OHLC+volume observation: a snapshot (O=H=L=C) or a finer bar.
type point struct {
	marketID string
	eventID  string
	ts       int64
	open     float64
	high     float64
	low      float64
	close    float64
	volume   float64
	usd      float64
}

func fromSnapshots(snaps []*models.PriceSnapshot) []point {
	points := make([]point, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, point{
			marketID: s.MarketID, eventID: s.EventID, ts: s.TimestampMs,
			open: s.Price, high: s.Price, low: s.Price, close: s.Price,
			volume: s.Volume, usd: s.USDVolume,
		})
	}
	return points
}

func fromBars(bars []*models.AggregateBar) []point {
	points := make([]point, 0, len(bars))
	for _, b := range bars {
		points = append(points, point{
			marketID: b.MarketID, eventID: b.EventID, ts: b.StartMs,
			open: b.Open, high: b.High, low: b.Low, close: b.Close,
			volume: b.Volume, usd: b.USDVolume,
		})
	}
	return points
}

// bucketize groups points by (market, bucket) and folds each group into a bar.
// Points must be ordered by market, then time; output keeps that order.
func bucketize(points []point, g models.Granularity) []*models.AggregateBar {
	span := g.Duration().Milliseconds()
	var bars []*models.AggregateBar
	var cur *models.AggregateBar
	for _, p := range points {
		start := g.BucketStart(p.ts)
		if cur == nil || cur.MarketID != p.marketID || cur.StartMs != start {
			cur = &models.AggregateBar{
				MarketID:    p.marketID,
				EventID:     p.eventID,
				Granularity: g,
				StartMs:     start,
				EndMs:       start + span,
				Open:        p.open,
				High:        p.high,
				Low:         p.low,
				Close:       p.close,
			}
			bars = append(bars, cur)
		} else {
			cur.High = math.Max(cur.High, p.high)
			cur.Low = math.Min(cur.Low, p.low)
			cur.Close = p.close
		}
		if cur.EventID == "" {
			cur.EventID = p.eventID
		}
		cur.Volume += p.volume
		cur.USDVolume += p.usd
	}
	return bars
}
