package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

// ErrNotFound is returned when the API has no data for the requested symbol.
var ErrNotFound = errors.New("polygon: not found")

// Client wraps the upstream REST API. All calls carry a finite timeout so a
// hung upstream surfaces as a request error instead of a stalled handler.
type Client struct {
	http   *resty.Client
	apiKey string
	logger *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetQueryParam("apiKey", apiKey)

	return &Client{http: rc, apiKey: apiKey, logger: logger}
}

type snapshotEnvelope struct {
	Status  string            `json:"status"`
	Tickers []json.RawMessage `json:"tickers"`
}

// Snapshot fetches the full-market intraday snapshot. Entries are returned
// raw; normalization across the snapshot's inconsistent field names is the
// caller's concern (see Normalize).
func (c *Client) Snapshot(ctx context.Context) ([]json.RawMessage, error) {
	var out snapshotEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/snapshot/locale/us/markets/stocks/tickers")
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("snapshot request: status %d", resp.StatusCode())
	}
	return out.Tickers, nil
}

type groupedEnvelope struct {
	Status       string              `json:"status"`
	ResultsCount int                 `json:"resultsCount"`
	Results      []models.GroupedBar `json:"results"`
}

// GroupedDaily fetches one daily bar per symbol for the whole market on the
// given date (YYYY-MM-DD). An empty result set is not an error; holidays and
// weekends legitimately have none.
func (c *Client) GroupedDaily(ctx context.Context, date string) ([]models.GroupedBar, error) {
	var out groupedEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("adjusted", "true").
		Get("/v2/aggs/grouped/locale/us/market/stocks/" + date)
	if err != nil {
		return nil, fmt.Errorf("grouped daily request for %s: %w", date, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("grouped daily request for %s: status %d", date, resp.StatusCode())
	}
	if out.ResultsCount == 0 {
		c.logger.Debug("Grouped daily returned no bars", zap.String("date", date))
	}
	return out.Results, nil
}

type tickerDetailsEnvelope struct {
	Results struct {
		Ticker         string  `json:"ticker"`
		SICDescription string  `json:"sic_description"`
		MarketCap      float64 `json:"market_cap"`
	} `json:"results"`
}

// TickerDetails fetches slow-changing reference data for one symbol.
func (c *Client) TickerDetails(ctx context.Context, symbol string) (*models.Reference, error) {
	var out tickerDetailsEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v3/reference/tickers/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker details for %s: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ticker details for %s: status %d", symbol, resp.StatusCode())
	}
	return &models.Reference{
		Ticker:    out.Results.Ticker,
		Sector:    out.Results.SICDescription,
		MarketCap: out.Results.MarketCap,
	}, nil
}

type aggsEnvelope struct {
	Results []struct {
		Timestamp int64   `json:"t"`
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
	} `json:"results"`
}

// Bar is one OHLCV bar from the per-symbol range endpoint.
type Bar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// Range fetches per-symbol OHLCV bars between two dates at the given
// resolution (e.g. 1, "day").
func (c *Client) Range(ctx context.Context, symbol string, multiplier int, timespan, from, to string) ([]Bar, error) {
	var out aggsEnvelope
	url := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s", symbol, multiplier, timespan, from, to)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("adjusted", "true").
		SetQueryParam("sort", "asc").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("range request for %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("range request for %s: status %d", symbol, resp.StatusCode())
	}
	bars := make([]Bar, 0, len(out.Results))
	for _, r := range out.Results {
		bars = append(bars, Bar(r))
	}
	return bars, nil
}

// PrevClose fetches the previous trading day's bar for one symbol.
func (c *Client) PrevClose(ctx context.Context, symbol string) (*Bar, error) {
	var out aggsEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("adjusted", "true").
		Get("/v2/aggs/ticker/" + symbol + "/prev")
	if err != nil {
		return nil, fmt.Errorf("prev close for %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("prev close for %s: status %d", symbol, resp.StatusCode())
	}
	if len(out.Results) == 0 {
		return nil, ErrNotFound
	}
	b := Bar(out.Results[0])
	return &b, nil
}
