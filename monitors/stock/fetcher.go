package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yu320/NBot/fetch"
)

// DefaultBaseURL is the Yahoo chart API.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// Ranges requested from the chart API.
const (
	RangeAnalysis = "3mo"
	RangeValidate = "5d"
)

// FetcherConfig configures the chart client.
type FetcherConfig struct {
	BaseURL string
	Timeout time.Duration // Default: 10s.
}

// Fetcher reads daily bars from the chart API.
type Fetcher struct {
	base string
	http *fetch.Fetcher
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Fetcher{base: cfg.BaseURL, http: fetch.New(fetch.Config{Timeout: cfg.Timeout})}
}

// Fetch reads three months of daily bars for the entry.
func (f *Fetcher) Fetch(ctx context.Context, e Entry) (Snapshot, error) {
	return f.Query(ctx, e.Ticker, RangeAnalysis)
}

// Query reads daily bars for ticker over rng ("5d", "3mo", ...).
func (f *Fetcher) Query(ctx context.Context, ticker, rng string) (Snapshot, error) {
	body, err := f.http.Get(ctx, f.base+url.PathEscape(ticker), url.Values{
		"range":    {rng},
		"interval": {"1d"},
		"region":   {"TW"},
		"lang":     {"zh-Hant-TW"},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("stock: fetch %s: %w", ticker, err)
	}
	bars, err := ParseChart(body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stock: %s: %w", ticker, err)
	}
	return Snapshot{Ticker: ticker, Bars: bars}, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ParseChart decodes a chart response into bars, dropping any bar with a
// missing field.
func ParseChart(body []byte) ([]Bar, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrNoData, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	res := resp.Chart.Result[0]
	q := res.Indicators.Quote[0]

	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		vals, ok := pick(i, q.Open, q.High, q.Low, q.Close, q.Volume)
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

func pick(i int, cols ...[]*float64) ([]float64, bool) {
	out := make([]float64, len(cols))
	for j, c := range cols {
		if i >= len(c) || c[i] == nil {
			return nil, false
		}
		out[j] = *c[i]
	}
	return out, true
}
