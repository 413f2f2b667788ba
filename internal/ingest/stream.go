package ingest

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/polymarket"
)

// TradeStream delivers live trades for a set of assets until ctx is done.
type TradeStream interface {
	Run(ctx context.Context, assets []polymarket.Asset, handle func(models.Trade)) error
}

// HotStore is the subset of storage the stream ingestor needs.
type HotStore interface {
	GetMarket(ctx context.Context, id string) (*models.Market, error)
	MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error)
}

// StreamConfig configures the stream ingestor.
type StreamConfig struct {
	FlushInterval   time.Duration
	RefreshInterval time.Duration
	MaxMarkets      int
}

// StreamIngestor buffers live trades for hot markets and flushes them into
// the snapshot builder. The subscription follows the hot tier as it changes.
type StreamIngestor struct {
	stream  TradeStream
	store   HotStore
	builder Ingester
	config  StreamConfig

	mu     sync.Mutex
	buffer []models.Trade
}

// NewStreamIngestor creates a StreamIngestor.
func NewStreamIngestor(stream TradeStream, store HotStore, builder Ingester, config StreamConfig) *StreamIngestor {
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 5 * time.Minute
	}
	if config.MaxMarkets <= 0 {
		config.MaxMarkets = 200
	}
	return &StreamIngestor{stream: stream, store: store, builder: builder, config: config}
}

// Run streams until ctx is done, flushing the buffer on every tick and once
// more on the way out.
func (s *StreamIngestor) Run(ctx context.Context) error {
	flush := time.NewTicker(s.config.FlushInterval)
	defer flush.Stop()
	refresh := time.NewTicker(s.config.RefreshInterval)
	defer refresh.Stop()

	var (
		current []string
		cancel  context.CancelFunc = func() {}
		done    chan struct{}
	)
	restart := func() {
		assets, err := s.hotAssets(ctx)
		if err != nil {
			logger.Warn("stream: failed to load hot markets: %v", err)
			return
		}
		ids := tokenIDs(assets)
		if done != nil && slices.Equal(ids, current) {
			return
		}
		cancel()
		if done != nil {
			<-done
		}
		current = ids
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			if err := s.stream.Run(runCtx, assets, s.add); err != nil && runCtx.Err() == nil {
				logger.Warn("stream stopped: %v", err)
			}
		}(done)
		logger.Info("stream subscribed to %d assets", len(assets))
	}

	restart()
	for {
		select {
		case <-ctx.Done():
			cancel()
			if done != nil {
				<-done
			}
			s.Flush(context.Background())
			return ctx.Err()
		case <-flush.C:
			s.Flush(ctx)
		case <-refresh.C:
			restart()
		}
	}
}

func (s *StreamIngestor) add(t models.Trade) {
	s.mu.Lock()
	s.buffer = append(s.buffer, t)
	s.mu.Unlock()
}

// Flush ingests buffered trades and returns how many snapshots were created.
func (s *StreamIngestor) Flush(ctx context.Context) int {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0
	}
	res, err := s.builder.Ingest(ctx, batch)
	if err != nil {
		logger.Warn("stream flush failed: %v", err)
		return res.Created
	}
	logger.Debug("stream flush: %d trades, %d snapshots", res.Total, res.Created)
	return res.Created
}

func (s *StreamIngestor) hotAssets(ctx context.Context) ([]polymarket.Asset, error) {
	states, err := s.store.MarketsDueForSync(ctx, models.TierHot, math.MaxInt64, s.config.MaxMarkets)
	if err != nil {
		return nil, err
	}
	var assets []polymarket.Asset
	for _, st := range states {
		m, err := s.store.GetMarket(ctx, st.MarketID)
		if err != nil {
			logger.Debug("stream: skipping %s: %v", st.MarketID, err)
			continue
		}
		assets = append(assets, polymarket.MarketAssets(m)...)
	}
	return assets, nil
}

func tokenIDs(assets []polymarket.Asset) []string {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.TokenID
	}
	sort.Strings(ids)
	return ids
}
