package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wavepilot/marketd/internal/clients/massive"
	"github.com/wavepilot/marketd/internal/domain"
)

type fakeMarket struct {
	snapshot    []massive.SnapshotTicker
	snapshotErr error
	grouped     []massive.AggBar
	minute      map[string][]massive.AggBar
	daily       map[string][]massive.AggBar
	news        map[string][]massive.NewsResult
	financials  map[string][]massive.FinancialsResult
	finErr      map[string]error

	snapshotCalls int
	minuteCalls   []minuteCall
}

type minuteCall struct {
	ticker   string
	from, to time.Time
}

func (m *fakeMarket) Snapshot(context.Context) ([]massive.SnapshotTicker, error) {
	m.snapshotCalls++
	return m.snapshot, m.snapshotErr
}

func (m *fakeMarket) GroupedDaily(context.Context, time.Time) ([]massive.AggBar, error) {
	return m.grouped, nil
}

func (m *fakeMarket) MinuteAggs(_ context.Context, ticker string, from, to time.Time, _ int) ([]massive.AggBar, error) {
	m.minuteCalls = append(m.minuteCalls, minuteCall{ticker, from, to})
	return m.minute[ticker], nil
}

func (m *fakeMarket) DailyAggs(_ context.Context, ticker string, _, _ time.Time, _ int) ([]massive.AggBar, error) {
	return m.daily[ticker], nil
}

func (m *fakeMarket) News(_ context.Context, ticker string, _ int) ([]massive.NewsResult, error) {
	return m.news[ticker], nil
}

func (m *fakeMarket) Financials(_ context.Context, ticker string, _ int) ([]massive.FinancialsResult, error) {
	if err := m.finErr[ticker]; err != nil {
		return nil, err
	}
	return m.financials[ticker], nil
}

type fakeStore struct {
	quotes []domain.QuoteRecord
	daily  []domain.DailyRecord
	funds  []domain.FundamentalsRecord
}

func (f *fakeStore) WriteQuotes(_ context.Context, quotes []domain.QuoteRecord) error {
	f.quotes = append(f.quotes, quotes...)
	return nil
}

func (f *fakeStore) WriteDailyData(_ context.Context, daily []domain.DailyRecord) error {
	f.daily = append(f.daily, daily...)
	return nil
}

func (f *fakeStore) WriteFundamentals(_ context.Context, funds []domain.FundamentalsRecord) error {
	f.funds = append(f.funds, funds...)
	return nil
}

type fakeNewsSink struct {
	saved        []domain.NewsRecord
	fetchContent []bool
}

func (f *fakeNewsSink) SaveNews(_ context.Context, records []domain.NewsRecord, fetchContent bool) error {
	f.saved = append(f.saved, records...)
	f.fetchContent = append(f.fetchContent, fetchContent)
	return nil
}

type fakeHours struct{ open bool }

func (h fakeHours) IsMarketOpen(context.Context) bool { return h.open }

func newTestScheduler(market *fakeMarket, store *fakeStore, sink *fakeNewsSink, open bool, watchlist []string) *Scheduler {
	s := New(Config{
		Market:           market,
		Writer:           store,
		News:             sink,
		Hours:            fakeHours{open: open},
		Watchlist:        domain.NewWatchlist(watchlist),
		FetchNewsContent: true,
		Log:              zerolog.New(nil).Level(zerolog.Disabled),
	})
	s.general = rate.NewLimiter(rate.Inf, 1)
	s.correction = rate.NewLimiter(rate.Inf, 1)
	s.backfill = rate.NewLimiter(rate.Inf, 1)
	return s
}

func snapshotEntry(ticker string) massive.SnapshotTicker {
	return massive.SnapshotTicker{
		Ticker: ticker,
		Day:    massive.SnapshotDay{Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
	}
}

func aggBar(ticker string, ts time.Time) massive.AggBar {
	return massive.AggBar{
		Ticker:    ticker,
		Timestamp: ts.UnixMilli(),
		Open:      10, High: 11, Low: 9, Close: 10.5, Volume: 1000,
	}
}

func TestSnapshotAppliesCommonFilter(t *testing.T) {
	market := &fakeMarket{snapshot: []massive.SnapshotTicker{
		snapshotEntry("AAPL"), snapshotEntry("SPACW"), snapshotEntry("BRK.B"), snapshotEntry("NVDA"),
	}}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, nil)

	require.NoError(t, s.runSnapshot(context.Background(), false))

	require.Len(t, store.daily, 2)
	assert.Equal(t, "AAPL", store.daily[0].Ticker)
	assert.Equal(t, "NVDA", store.daily[1].Ticker)
}

func TestSnapshotGatedWhenClosed(t *testing.T) {
	market := &fakeMarket{snapshot: []massive.SnapshotTicker{snapshotEntry("AAPL")}}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, false, nil)

	require.NoError(t, s.runSnapshot(context.Background(), false))
	assert.Zero(t, market.snapshotCalls, "gated job must not hit the API")

	require.NoError(t, s.RunTask(context.Background(), "snapshot"))
	assert.Equal(t, 1, market.snapshotCalls, "manual trigger bypasses the gate")
	assert.Len(t, store.daily, 1)
}

func TestSIPCorrectionTargetsLaggedMinute(t *testing.T) {
	now := time.Date(2025, 1, 15, 15, 0, 30, 0, time.UTC)
	target := time.Date(2025, 1, 15, 14, 44, 0, 0, time.UTC)

	market := &fakeMarket{minute: map[string][]massive.AggBar{
		"AAPL": {aggBar("AAPL", target)},
	}}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, []string{"AAPL"})
	s.now = func() time.Time { return now }

	require.NoError(t, s.runSIPCorrection(context.Background(), false))

	require.Len(t, market.minuteCalls, 1)
	assert.Equal(t, target, market.minuteCalls[0].from)
	assert.Equal(t, target.Add(time.Minute), market.minuteCalls[0].to)
	require.Len(t, store.quotes, 1)
	assert.Equal(t, target, store.quotes[0].Time)
}

func TestEODWatchlistPathNeverFiltered(t *testing.T) {
	now := time.Date(2025, 1, 15, 21, 30, 0, 0, time.UTC)
	barTime := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	// SPACW fails the common filter, but it is on the watchlist
	market := &fakeMarket{
		grouped: []massive.AggBar{
			aggBar("AAPL", barTime), aggBar("SPACW", barTime), aggBar("BRK.B", barTime), aggBar("NVDA", barTime),
		},
		minute: map[string][]massive.AggBar{
			"SPACW": {aggBar("SPACW", barTime), aggBar("SPACW", barTime.Add(time.Minute))},
		},
	}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, []string{"SPACW"})
	s.now = func() time.Time { return now }

	require.NoError(t, s.runEOD(context.Background(), false))

	require.Len(t, store.daily, 2, "grouped daily is filtered")
	assert.Len(t, store.quotes, 2, "watchlist minute bars are not filtered")
	assert.Equal(t, "SPACW", store.quotes[0].Ticker)
}

func TestSnapshotAndEODShareDailyIdentity(t *testing.T) {
	// 16:30 ET on 2025-01-15. The snapshot stamps the trading date
	// directly; grouped-daily carries the upstream midnight-Eastern
	// stamp (05:00 UTC). Both must land on the same identity or the
	// authoritative EOD bar can never overwrite the intraday one.
	now := time.Date(2025, 1, 15, 21, 30, 0, 0, time.UTC)
	groupedStamp := time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC)

	market := &fakeMarket{
		snapshot: []massive.SnapshotTicker{snapshotEntry("AAPL")},
		grouped:  []massive.AggBar{aggBar("AAPL", groupedStamp)},
	}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, nil)
	s.now = func() time.Time { return now }

	require.NoError(t, s.runSnapshot(context.Background(), false))
	require.NoError(t, s.runEOD(context.Background(), false))

	require.Len(t, store.daily, 2)
	assert.Equal(t, store.daily[0].Date, store.daily[1].Date,
		"snapshot and EOD daily bars for the same trading day must share one identity")
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), store.daily[1].Date)
}

func TestNewsDelegatesWithFetchFlag(t *testing.T) {
	market := &fakeMarket{news: map[string][]massive.NewsResult{
		"AAPL": {{
			ID:           "n1",
			Publisher:    massive.NewsPublisher{Name: "S"},
			Title:        "t",
			PublishedUTC: "2025-01-15T10:00:00Z",
			ArticleURL:   "https://x/y",
		}},
	}}
	sink := &fakeNewsSink{}
	s := newTestScheduler(market, &fakeStore{}, sink, true, []string{"AAPL"})

	require.NoError(t, s.runNews(context.Background(), false))

	require.Len(t, sink.saved, 1)
	assert.Equal(t, "n1", sink.saved[0].ID)
	assert.Equal(t, []bool{true}, sink.fetchContent)
}

func TestFundamentalsNotAvailableSkipped(t *testing.T) {
	market := &fakeMarket{
		financials: map[string][]massive.FinancialsResult{
			"AAPL": {{EndDate: "2024-12-28", Timeframe: "quarterly"}},
		},
		finErr: map[string]error{"OBSCR": massive.ErrNotAvailable},
	}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, []string{"OBSCR", "AAPL"})

	require.NoError(t, s.runFundamentals(context.Background(), false))

	require.Len(t, store.funds, 1)
	assert.Equal(t, "AAPL", store.funds[0].Ticker)
}

func TestBackfillClipsMinuteBars(t *testing.T) {
	now := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	market := &fakeMarket{
		daily: map[string][]massive.AggBar{
			"TSLA": {aggBar("TSLA", now.AddDate(0, 0, -2))},
		},
		minute: map[string][]massive.AggBar{
			"TSLA": {
				aggBar("TSLA", now.Add(-20*time.Minute)),
				aggBar("TSLA", now.Add(-16*time.Minute)),
				aggBar("TSLA", now.Add(-15*time.Minute)),
				aggBar("TSLA", now.Add(-10*time.Minute)), // inside the live window
				aggBar("TSLA", now.Add(-1*time.Minute)),  // inside the live window
			},
		},
	}
	store := &fakeStore{}
	s := newTestScheduler(market, store, &fakeNewsSink{}, true, nil)
	s.now = func() time.Time { return now }

	s.BackfillHistory(context.Background(), []string{"tsla"})

	require.Len(t, store.daily, 1)
	require.Len(t, store.quotes, 3, "bars newer than now-15m are clipped")
	for _, q := range store.quotes {
		assert.False(t, q.Time.After(now.Add(-15*time.Minute)))
	}
}

func TestRunTaskUnknown(t *testing.T) {
	s := newTestScheduler(&fakeMarket{}, &fakeStore{}, &fakeNewsSink{}, true, nil)
	assert.Error(t, s.RunTask(context.Background(), "nope"))
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeMarket{}, &fakeStore{}, &fakeNewsSink{}, true, nil)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, "running", s.Status())

	s.Stop()
	s.Stop()
	assert.Equal(t, "stopped", s.Status())

	require.NoError(t, s.Start())
	assert.Equal(t, "running", s.Status())
	s.Stop()
}
