// Package alert selects high intensity scores for notification and keeps a
// per-event cooldown so the same move is not announced every cycle.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/storage"
)

// Config controls which scores are announced.
type Config struct {
	Threshold float64
	TopK      int
	Cooldown  time.Duration
	Windows   []models.Window
}

// DefaultConfig returns the default alert configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: 7.0,
		TopK:      5,
		Cooldown:  2 * time.Hour,
		Windows:   []models.Window{models.Window1h, models.Window24h},
	}
}

// Alert is one score selected for notification.
type Alert struct {
	Score       *models.Score
	EventTitle  string
	EventSlug   string
	TopQuestion string
}

// URL returns the event page, or "" when the slug is unknown.
func (a Alert) URL() string {
	if a.EventSlug == "" {
		return ""
	}
	return "https://polymarket.com/event/" + a.EventSlug
}

// Direction of the top mover.
func (a Alert) Direction() string {
	return getDirection(a.Score.TopPrevPrice, a.Score.TopCurrPrice)
}

// Notifier delivers alerts.
type Notifier interface {
	SendAlerts(alerts []Alert) error
}

// EventStore resolves event titles.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type notifiedRecord struct {
	Direction string
	NewProb   float64
	SentAt    time.Time
}

// Alerter filters scores and hands the survivors to a Notifier.
type Alerter struct {
	config   Config
	store    EventStore
	notifier Notifier

	mu       sync.Mutex
	notified map[string]notifiedRecord
}

// New creates an Alerter.
func New(store EventStore, notifier Notifier, config Config) *Alerter {
	return &Alerter{
		config:   config,
		store:    store,
		notifier: notifier,
		notified: make(map[string]notifiedRecord),
	}
}

// Watches reports whether alerts are raised for window.
func (a *Alerter) Watches(window models.Window) bool {
	for _, w := range a.config.Windows {
		if w == window {
			return true
		}
	}
	return false
}

// Process announces the scores of one window that clear the threshold and
// are not cooling down. Returns how many alerts were sent.
func (a *Alerter) Process(ctx context.Context, window models.Window, scores []*models.Score, now time.Time) (int, error) {
	if !a.Watches(window) || a.notifier == nil {
		return 0, nil
	}
	candidates := a.selectTop(scores)
	candidates = a.FilterRecentlySent(candidates, now)
	if len(candidates) == 0 {
		return 0, nil
	}

	alerts := make([]Alert, 0, len(candidates))
	for _, sc := range candidates {
		al := Alert{Score: sc, EventTitle: sc.EventID}
		e, err := a.store.GetEvent(ctx, sc.EventID)
		switch {
		case err == nil:
			al.EventTitle = e.Title
			al.EventSlug = e.Slug
		case errors.Is(err, storage.ErrNotFound):
		default:
			return 0, fmt.Errorf("failed to load event %s: %w", sc.EventID, err)
		}
		for _, mv := range sc.Movements {
			if mv.MarketID == sc.TopMarketID {
				al.TopQuestion = mv.Question
				break
			}
		}
		alerts = append(alerts, al)
	}

	if err := a.notifier.SendAlerts(alerts); err != nil {
		observability.RecordAlert("failed")
		return 0, fmt.Errorf("failed to send alerts: %w", err)
	}
	a.RecordNotified(candidates, now)
	for range alerts {
		observability.RecordAlert("sent")
	}
	logger.Info("sent %d %s alerts", len(alerts), window)
	return len(alerts), nil
}

func (a *Alerter) selectTop(scores []*models.Score) []*models.Score {
	var out []*models.Score
	for _, sc := range scores {
		if sc.Value >= a.config.Threshold && sc.TopMarketID != "" {
			out = append(out, sc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if a.config.TopK > 0 && len(out) > a.config.TopK {
		out = out[:a.config.TopK]
	}
	return out
}

func cooldownKey(sc *models.Score) string {
	return string(sc.Window) + ":" + sc.EventID
}

func isDeterministicZone(p float64) bool {
	return p > 0.90 || p < 0.10
}

func getDirection(oldProb, newProb float64) string {
	switch {
	case newProb > oldProb:
		return "increase"
	case newProb < oldProb:
		return "decrease"
	default:
		return "no_change"
	}
}

// FilterRecentlySent drops scores whose event was announced within the
// cooldown, unless the top mover turned around, crossed 50% or entered the
// near-certain zone since then.
func (a *Alerter) FilterRecentlySent(scores []*models.Score, now time.Time) []*models.Score {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result []*models.Score
	for _, sc := range scores {
		rec, exists := a.notified[cooldownKey(sc)]
		if exists && now.Sub(rec.SentAt) < a.config.Cooldown {
			sameDirection := rec.Direction == getDirection(sc.TopPrevPrice, sc.TopCurrPrice)
			crossedHalf := (rec.NewProb < 0.5) != (sc.TopCurrPrice < 0.5)
			enteringDetZone := isDeterministicZone(sc.TopCurrPrice) && !isDeterministicZone(rec.NewProb)
			if sameDirection && !crossedHalf && !enteringDetZone {
				observability.RecordAlert("suppressed")
				continue
			}
		}
		result = append(result, sc)
	}
	return result
}

// RecordNotified starts the cooldown of the given scores' events.
func (a *Alerter) RecordNotified(scores []*models.Score, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sc := range scores {
		a.notified[cooldownKey(sc)] = notifiedRecord{
			Direction: getDirection(sc.TopPrevPrice, sc.TopCurrPrice),
			NewProb:   sc.TopCurrPrice,
			SentAt:    now,
		}
	}
	for k, rec := range a.notified {
		if now.Sub(rec.SentAt) >= a.config.Cooldown {
			delete(a.notified, k)
		}
	}
}
