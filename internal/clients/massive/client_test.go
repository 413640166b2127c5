package massive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-key", zerolog.New(nil).Level(zerolog.Disabled))
	c.backoff = time.Millisecond
	return c
}

func TestFinancialsNotAvailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Financials(context.Background(), "XXXX", 1)
	assert.True(t, errors.Is(err, ErrNotAvailable))
}

func TestRateLimitRetriesOnce(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[{"t":1736949600000,"o":1,"h":1,"l":1,"c":1,"v":5}]}`))
	})

	bars, err := c.MinuteAggs(context.Background(), "AAPL", time.Now().Add(-time.Hour), time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, bars, 1)
}

func TestRateLimitSurfacesAfterSecond429(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestSnapshotAcceptsBothResultKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"tickers":[{"ticker":"AAPL","day":{"o":1,"h":2,"l":0.5,"c":1.5,"v":100}}]}`))
	})

	entries, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAPL", entries[0].Ticker)
}

func TestMarketStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/marketstatus/now", r.URL.Path)
		w.Write([]byte(`{"market":"extended-hours","earlyHours":true}`))
	})

	st, err := c.MarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "extended-hours", st.Market)
	assert.True(t, st.EarlyHours)
}
