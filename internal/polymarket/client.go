// Package polymarket talks to the Polymarket Gamma catalog API, the data API
// trade feed and the CLOB market websocket.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
)

// ErrUpstream wraps every failure to get a usable response from a feed.
var ErrUpstream = errors.New("upstream request failed")

// Config configures the REST client.
type Config struct {
	GammaURL          string
	DataURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryBackoff      time.Duration // multiplied by the attempt number
	TradePageSize     int
	MaxTradePages     int
}

// DefaultConfig returns the production endpoints and limits.
func DefaultConfig() Config {
	return Config{
		GammaURL:          "https://gamma-api.polymarket.com",
		DataURL:           "https://data-api.polymarket.com",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxRetries:        3,
		RetryBackoff:      time.Second,
		TradePageSize:     500,
		MaxTradePages:     20,
	}
}

// Client provides access to the Polymarket REST APIs.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Polymarket client.
func NewClient(config Config) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.TradePageSize < 1 {
		config.TradePageSize = 500
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, config.Burst),
	}
}

// gammaEvent is an event from the Gamma API.
type gammaEvent struct {
	ID         string        `json:"id"`
	Slug       string        `json:"slug"`
	Title      string        `json:"title"`
	Category   string        `json:"category"`
	Image      string        `json:"image"`
	Liquidity  number        `json:"liquidity"`
	Volume     number        `json:"volume"`
	Volume24hr number        `json:"volume24hr"`
	Active     bool          `json:"active"`
	Closed     bool          `json:"closed"`
	Markets    []gammaMarket `json:"markets"`
}

// gammaMarket is a market nested in a Gamma event. Numeric fields arrive
// either as JSON numbers or as quoted strings.
type gammaMarket struct {
	ID             string `json:"id"`
	ConditionID    string `json:"conditionId"`
	Question       string `json:"question"`
	Outcomes       string `json:"outcomes"`     // JSON string: "[\"Yes\", \"No\"]"
	ClobTokenIds   string `json:"clobTokenIds"` // JSON string: "[\"token1\", \"token2\"]"
	Active         bool   `json:"active"`
	Closed         bool   `json:"closed"`
	LastTradePrice number `json:"lastTradePrice"`
	BestBid        number `json:"bestBid"`
	BestAsk        number `json:"bestAsk"`
	Volume24hr     number `json:"volume24hr"`
	Liquidity      number `json:"liquidity"`
}

// CatalogEvent is an event with its markets.
type CatalogEvent struct {
	Event   models.Event
	Markets []models.Market
}

// FetchEvents retrieves one page of active events with their nested markets.
// Markets without a condition id are dropped.
func (c *Client) FetchEvents(ctx context.Context, offset, limit int) ([]CatalogEvent, error) {
	u, err := url.Parse(c.config.GammaURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	var raw []gammaEvent
	if err := c.getJSON(ctx, "gamma", u.String(), &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	now := time.Now()
	events := make([]CatalogEvent, 0, len(raw))
	for _, ge := range raw {
		ce := CatalogEvent{Event: models.Event{
			ID:         ge.ID,
			Slug:       ge.Slug,
			Title:      ge.Title,
			Category:   ge.Category,
			Image:      ge.Image,
			Liquidity:  nonNegative(ge.Liquidity),
			Volume:     nonNegative(ge.Volume),
			Volume24hr: nonNegative(ge.Volume24hr),
			Active:     ge.Active,
			Closed:     ge.Closed,
			UpdatedAt:  now,
		}}
		for _, gm := range ge.Markets {
			if gm.ConditionID == "" {
				continue
			}
			yes, no := parseTokenIDs(gm)
			ce.Markets = append(ce.Markets, models.Market{
				ID:             gm.ConditionID,
				EventID:        ge.ID,
				Question:       gm.Question,
				YesTokenID:     yes,
				NoTokenID:      no,
				Active:         gm.Active,
				Closed:         gm.Closed,
				LastTradePrice: probability(gm.LastTradePrice),
				BestBid:        probability(gm.BestBid),
				BestAsk:        probability(gm.BestAsk),
				Volume24hr:     nonNegative(gm.Volume24hr),
				Liquidity:      nonNegative(gm.Liquidity),
				UpdatedAt:      now,
			})
		}
		events = append(events, ce)
	}
	return events, nil
}

// parseTokenIDs pairs the outcome labels with the CLOB token ids.
func parseTokenIDs(m gammaMarket) (string, string) {
	var outcomes, tokens []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return "", ""
	}
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokens); err != nil {
		return "", ""
	}
	var yes, no string
	for i, outcome := range outcomes {
		if i >= len(tokens) {
			break
		}
		switch strings.ToLower(outcome) {
		case "yes":
			yes = tokens[i]
		case "no":
			no = tokens[i]
		}
	}
	return yes, no
}

// dataTrade is a fill from the data API. Timestamps are unix seconds.
type dataTrade struct {
	ConditionID     string `json:"conditionId"`
	Asset           string `json:"asset"`
	Side            string `json:"side"`
	Size            number `json:"size"`
	Price           number `json:"price"`
	Timestamp       int64  `json:"timestamp"`
	Outcome         string `json:"outcome"`
	OutcomeIndex    int    `json:"outcomeIndex"`
	TransactionHash string `json:"transactionHash"`
}

// FetchTrades pages through a market's trades, newest first, until it
// reaches sinceMs. Returned trades carry Yes-outcome prices and no EventID.
// When MaxTradePages runs out first the older trades are not fetched; the cut
// is logged and counted, and the result still holds the newest pages.
func (c *Client) FetchTrades(ctx context.Context, conditionID string, sinceMs int64) ([]models.Trade, error) {
	var trades []models.Trade
	limit := c.config.TradePageSize
	for page := 0; c.config.MaxTradePages <= 0 || page < c.config.MaxTradePages; page++ {
		u, err := url.Parse(c.config.DataURL + "/trades")
		if err != nil {
			return nil, fmt.Errorf("failed to parse URL: %w", err)
		}
		q := u.Query()
		q.Set("market", conditionID)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(page*limit))
		q.Set("takerOnly", "false")
		u.RawQuery = q.Encode()

		var raw []dataTrade
		if err := c.getJSON(ctx, "data", u.String(), &raw); err != nil {
			return nil, fmt.Errorf("failed to fetch trades for %s: %w", conditionID, err)
		}

		reached := false
		for _, dt := range raw {
			tsMs := dt.Timestamp * 1000
			if tsMs < sinceMs {
				reached = true
				break
			}
			trades = append(trades, toTrade(conditionID, dt))
		}
		if reached || len(raw) < limit {
			return trades, nil
		}
	}
	if len(trades) > 0 {
		oldest := trades[len(trades)-1].TimestampMs
		observability.RecordTradesTruncated()
		logger.Warn("trades for %s truncated after %d pages at %s; older trades back to %s not fetched",
			conditionID, c.config.MaxTradePages,
			time.UnixMilli(oldest).UTC().Format(time.RFC3339), time.UnixMilli(sinceMs).UTC().Format(time.RFC3339))
	}
	return trades, nil
}

func toTrade(conditionID string, dt dataTrade) models.Trade {
	price := dt.Price.Decimal
	if isNoOutcome(dt.Outcome, dt.OutcomeIndex) {
		price = decimal.NewFromInt(1).Sub(price)
	}
	p, _ := price.Float64()
	size, _ := dt.Size.Float64()
	return models.Trade{
		MarketID:    conditionID,
		TimestampMs: dt.Timestamp * 1000,
		Price:       p,
		Size:        size,
		Side:        dt.Side,
		DedupKey:    fmt.Sprintf("%s:%s:%s:%s", dt.TransactionHash, dt.Asset, dt.Price.String(), dt.Size.String()),
	}
}

func isNoOutcome(outcome string, index int) bool {
	if outcome != "" {
		return strings.EqualFold(outcome, "no")
	}
	return index == 1
}

// number is a decimal that also accepts an empty string as zero.
type number struct {
	decimal.Decimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	if string(b) == `""` {
		n.Decimal = decimal.Zero
		return nil
	}
	return n.Decimal.UnmarshalJSON(b)
}

func probability(d number) float64 {
	f, _ := d.Float64()
	if f < 0 || f > 1 {
		return 0
	}
	return f
}

func nonNegative(d number) float64 {
	f, _ := d.Float64()
	if f < 0 {
		return 0
	}
	return f
}

func (c *Client) getJSON(ctx context.Context, feed, urlStr string, out any) error {
	body, err := c.doRequest(ctx, urlStr)
	if err != nil {
		observability.RecordUpstreamFailure(feed)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		observability.RecordUpstreamFailure(feed)
		return fmt.Errorf("%w: failed to decode response: %v", ErrUpstream, err)
	}
	return nil
}

// doRequest performs a rate-limited GET with linear-backoff retries on
// transport errors, 429 and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error
	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.config.RetryBackoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	}
	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrUpstream, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
