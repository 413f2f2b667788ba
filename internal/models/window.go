package models

import (
	"fmt"
	"time"
)

// Window is a scoring window label.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// AllWindows lists the supported windows, shortest first.
func AllWindows() []Window {
	return []Window{Window1h, Window24h, Window7d, Window30d}
}

// ParseWindow validates a window label.
func ParseWindow(s string) (Window, error) {
	for _, w := range AllWindows() {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// Duration returns the window span.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Source returns the series granularity read for the window: raw snapshots
// for short windows, aggregate bars for long ones.
func (w Window) Source() Granularity {
	switch w {
	case Window7d:
		return GranularityHour
	case Window30d:
		return GranularityDay
	default:
		return GranularityRaw
	}
}

// Scale returns the baseline return scale compared against moves in the window.
func (w Window) Scale() Scale {
	switch w {
	case Window1h:
		return ScaleMinute
	case Window30d:
		return ScaleDay
	default:
		return ScaleHour
	}
}

// Range returns the half-open [from, to) span in milliseconds ending at now.
func (w Window) Range(now time.Time) (int64, int64) {
	to := now.UnixMilli()
	return to - w.Duration().Milliseconds(), to
}

// Scale is the sampling scale of a baseline statistic.
type Scale string

const (
	ScaleMinute Scale = "minute"
	ScaleHour   Scale = "hour"
	ScaleDay    Scale = "day"
)
