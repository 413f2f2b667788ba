// Package cache holds read-path responses (latest scores, top lists, platform
// metrics) keyed per window so a window can be invalidated as a whole when its
// scores are recomputed.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
)

const keyPrefix = "seismo"

// Cache stores JSON-encoded values with a TTL.
type Cache interface {
	// Get decodes the value at key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	// InvalidateWindow drops every key of a window.
	InvalidateWindow(ctx context.Context, window models.Window) error
	Health(ctx context.Context) error
	Close() error
}

// ScoreKey is the key of an event's latest score.
func ScoreKey(window models.Window, eventID string) string {
	return fmt.Sprintf("%s:%s:score:%s", keyPrefix, window, eventID)
}

// TopKey is the key of a window's top-N list.
func TopKey(window models.Window, limit int) string {
	return fmt.Sprintf("%s:%s:top:%d", keyPrefix, window, limit)
}

// PlatformKey is the key of a window's latest platform metrics.
func PlatformKey(window models.Window) string {
	return fmt.Sprintf("%s:%s:platform", keyPrefix, window)
}

func windowPrefix(window models.Window) string {
	return fmt.Sprintf("%s:%s:", keyPrefix, window)
}

type entry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. Expired entries are dropped lazily.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return false, nil
	}
	if err := decode(e.data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = entry{data: data, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) InvalidateWindow(_ context.Context, window models.Window) error {
	prefix := windowPrefix(window)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryCache) Health(context.Context) error { return nil }

func (m *MemoryCache) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
