// Package massive provides the client for the Massive REST API, the
// delayed (SIP-quality) equities feed: aggregates, snapshots, news,
// fundamentals and market status.
package massive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	httpTimeout      = 10 * time.Second
	rateLimitBackoff = 60 * time.Second
)

// Typed errors; callers branch with errors.Is
var (
	// ErrNotAvailable maps 403/404, e.g. financials not offered for a ticker
	ErrNotAvailable = errors.New("resource not available")
	// ErrRateLimited maps a 429 that persisted through the single retry
	ErrRateLimited = errors.New("rate limited")
)

// Client for the Massive REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	// sleep between 429 and the retry; swapped out in tests
	backoff time.Duration
}

// NewClient creates a new Massive REST client
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: httpTimeout},
		log:        log.With().Str("client", "massive").Logger(),
		backoff:    rateLimitBackoff,
	}
}

// get issues a GET, decodes JSON into out, and applies the shared error
// policy: 403/404 → ErrNotAvailable, 429 → wait once and retry, second
// 429 → ErrRateLimited.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	retried := false
	for {
		err := c.getOnce(ctx, path, query, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateLimited) && !retried {
			retried = true
			c.log.Warn().Str("path", path).Dur("backoff", c.backoff).Msg("Rate limited, backing off")
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s returned %d: %w", path, resp.StatusCode, ErrNotAvailable)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned 429: %w", path, ErrRateLimited)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Snapshot fetches the current-day summary for every US ticker
func (c *Client) Snapshot(ctx context.Context) ([]SnapshotTicker, error) {
	var resp SnapshotResponse
	if err := c.get(ctx, "/v2/snapshot/locale/us/markets/stocks/tickers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries(), nil
}

// GroupedDaily fetches one daily bar per ticker for a trading date
func (c *Client) GroupedDaily(ctx context.Context, date time.Time) ([]AggBar, error) {
	path := fmt.Sprintf("/v2/aggs/grouped/locale/us/market/stocks/%s", date.Format("2006-01-02"))
	q := url.Values{"adjusted": {"true"}}
	var resp AggsResponse
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MinuteAggs fetches 1-minute bars for a ticker over [from, to]
func (c *Client) MinuteAggs(ctx context.Context, ticker string, from, to time.Time, limit int) ([]AggBar, error) {
	return c.rangeAggs(ctx, ticker, "minute", from, to, limit)
}

// DailyAggs fetches daily bars for a ticker over [from, to]
func (c *Client) DailyAggs(ctx context.Context, ticker string, from, to time.Time, limit int) ([]AggBar, error) {
	return c.rangeAggs(ctx, ticker, "day", from, to, limit)
}

func (c *Client) rangeAggs(ctx context.Context, ticker, timespan string, from, to time.Time, limit int) ([]AggBar, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%d/%d",
		url.PathEscape(ticker), timespan, from.UnixMilli(), to.UnixMilli())
	q := url.Values{"adjusted": {"true"}, "sort": {"asc"}}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp AggsResponse
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// News lists recent news for a ticker, newest first
func (c *Client) News(ctx context.Context, ticker string, limit int) ([]NewsResult, error) {
	q := url.Values{
		"ticker": {ticker},
		"sort":   {"published_utc"},
		"order":  {"desc"},
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp NewsResponse
	if err := c.get(ctx, "/v2/reference/news", q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Financials lists reporting periods for a ticker. A 403/404 surfaces
// as ErrNotAvailable; callers treat that as "skip, not offered".
func (c *Client) Financials(ctx context.Context, ticker string, limit int) ([]FinancialsResult, error) {
	q := url.Values{"ticker": {ticker}}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp FinancialsResponse
	if err := c.get(ctx, "/vX/reference/financials", q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MarketStatus fetches the live market status
func (c *Client) MarketStatus(ctx context.Context) (*MarketStatusResponse, error) {
	var resp MarketStatusResponse
	if err := c.get(ctx, "/v1/marketstatus/now", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
