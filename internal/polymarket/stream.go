package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
)

// StreamConfig configures the market websocket.
type StreamConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig returns the production websocket settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:               "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Asset maps a CLOB token id back to its market and outcome.
type Asset struct {
	TokenID  string
	MarketID string
	EventID  string
	No       bool
}

// MarketAssets returns the subscribable assets of a market.
func MarketAssets(m *models.Market) []Asset {
	var assets []Asset
	if m.YesTokenID != "" {
		assets = append(assets, Asset{TokenID: m.YesTokenID, MarketID: m.ID, EventID: m.EventID})
	}
	if m.NoTokenID != "" {
		assets = append(assets, Asset{TokenID: m.NoTokenID, MarketID: m.ID, EventID: m.EventID, No: true})
	}
	return assets
}

// Stream subscribes to the CLOB market channel and turns last_trade_price
// messages into trades.
type Stream struct {
	config StreamConfig

	mu     sync.Mutex
	assets map[string]Asset
}

// NewStream creates a Stream. Nothing is dialled until Run.
func NewStream(config StreamConfig) *Stream {
	return &Stream{config: config, assets: make(map[string]Asset)}
}

type subscribeRequest struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

type marketMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     number `json:"price"`
	Size      number `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"` // unix milliseconds
}

// Run connects, subscribes to assets and calls handle for every trade until
// ctx is done. Dropped connections are redialled with exponential backoff and
// the subscription is replayed.
func (s *Stream) Run(ctx context.Context, assets []Asset, handle func(models.Trade)) error {
	s.mu.Lock()
	s.assets = make(map[string]Asset, len(assets))
	for _, a := range assets {
		s.assets[a.TokenID] = a
	}
	s.mu.Unlock()
	if len(assets) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	delay := s.config.ReconnectDelay
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observability.RecordStreamReconnect()
		logger.Warn("market stream dropped, reconnecting in %v: %v", delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// session runs one connection until it fails or ctx is done.
func (s *Stream) session(ctx context.Context, handle func(models.Trade)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if err := s.write(conn, websocket.TextMessage, subscribeRequest{AssetsIDs: ids, Type: "market"}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		observability.RecordStreamMessage()
		for _, t := range s.decode(message) {
			handle(t)
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	if s.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.write(conn, websocket.TextMessage, "PING"); err != nil {
				return
			}
		}
	}
}

// write serializes writes; gorilla connections allow one concurrent writer.
func (s *Stream) write(conn *websocket.Conn, messageType int, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	switch msg := v.(type) {
	case string:
		return conn.WriteMessage(messageType, []byte(msg))
	case []byte:
		return conn.WriteMessage(messageType, msg)
	default:
		return conn.WriteJSON(msg)
	}
}

// decode accepts a single message object or an array of them. Anything other
// than a last_trade_price for a subscribed asset is ignored.
func (s *Stream) decode(message []byte) []models.Trade {
	var batch []marketMessage
	if err := json.Unmarshal(message, &batch); err != nil {
		var one marketMessage
		if err := json.Unmarshal(message, &one); err != nil {
			return nil
		}
		batch = []marketMessage{one}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var trades []models.Trade
	for _, m := range batch {
		if m.EventType != "last_trade_price" {
			continue
		}
		asset, ok := s.assets[m.AssetID]
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		price := m.Price.Decimal
		if asset.No {
			price = decimal.NewFromInt(1).Sub(price)
		}
		p, _ := price.Float64()
		size, _ := m.Size.Float64()
		trades = append(trades, models.Trade{
			MarketID:    asset.MarketID,
			EventID:     asset.EventID,
			TimestampMs: ts,
			Price:       p,
			Size:        size,
			Side:        m.Side,
			DedupKey:    fmt.Sprintf("ws:%s:%s:%s:%s", m.AssetID, m.Timestamp, m.Price.String(), m.Size.String()),
		})
	}
	return trades
}
