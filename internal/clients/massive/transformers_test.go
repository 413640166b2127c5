package massive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wavepilot/marketd/internal/domain"
)

func TestToQuoteRecord(t *testing.T) {
	bar := AggBar{
		Timestamp: 1736949600000, // 2025-01-15T14:00:00Z
		Open:      100.02,
		High:      101.0,
		Low:       99.48,
		Close:     100.82,
		Volume:    12400,
		VWAP:      100.5,
		Trades:    98,
	}

	q := ToQuoteRecord("aapl", bar)
	assert.Equal(t, "AAPL", q.Ticker)
	assert.Equal(t, domain.MarketUS, q.Market)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), q.Time)
	assert.Equal(t, 100.02, q.Open)
	assert.Equal(t, int64(12400), q.Volume)
	assert.Equal(t, 100.5, q.VWAP)
	assert.Equal(t, int64(98), q.Trades)
}

func TestToQuoteRecordsDropsInvalid(t *testing.T) {
	bars := []AggBar{
		{Timestamp: 1736949600000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 10},
		{Timestamp: 1736949660000, High: 1, Low: 1, Close: 1}, // missing open
	}
	out := ToQuoteRecords("AAPL", bars)
	assert.Len(t, out, 1)
}

func TestToDailyRecordDerivesChange(t *testing.T) {
	// 2025-01-15T05:00:00Z, the upstream's midnight-Eastern day stamp
	bar := AggBar{Ticker: "NVDA", Timestamp: 1736917200000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1000}
	d := ToDailyRecord("", bar)
	assert.Equal(t, "NVDA", d.Ticker)
	assert.InDelta(t, 5.0, d.Change, 1e-9)
	assert.InDelta(t, 5.0, d.ChangePercent, 1e-9)
}

func TestToDailyRecordCanonicalDate(t *testing.T) {
	// The upstream t field is midnight US/Eastern (05:00 UTC in
	// January); the record must carry the canonical trading-date
	// identity instead, or it can never overwrite the snapshot bar.
	bar := AggBar{Ticker: "AAPL", Timestamp: 1736917200000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1000}
	d := ToDailyRecord("", bar)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), d.Date)
	assert.Equal(t, domain.TradingDate(time.UnixMilli(bar.Timestamp)), d.Date)
}

func TestSnapshotToDailyRecord(t *testing.T) {
	entry := SnapshotTicker{
		Ticker:           "AAPL",
		Day:              SnapshotDay{Open: 100, High: 102, Low: 99, Close: 101, Volume: 5000, VWAP: 100.7},
		PrevDay:          SnapshotDay{Close: 99.5},
		TodaysChange:     1.5,
		TodaysChangePerc: 1.51,
	}
	date := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	d := SnapshotToDailyRecord(entry, date)
	assert.Equal(t, date, d.Date)
	assert.Equal(t, 1.5, d.Change)
	assert.Equal(t, 99.5, d.PreviousClose)
	assert.Equal(t, 100.7, d.VWAP)
}

func TestToNewsRecordPrimaryInsight(t *testing.T) {
	res := NewsResult{
		ID:           "n1",
		Publisher:    NewsPublisher{Name: "S"},
		Title:        "t",
		PublishedUTC: "2025-01-15T10:00:00Z",
		ArticleURL:   "https://x/y",
		Tickers:      []string{"AAPL", "MSFT"},
		Insights: []NewsInsight{
			{Ticker: "MSFT", Sentiment: "negative"},
			{Ticker: "AAPL", Sentiment: "positive", SentimentReasoning: "strong quarter"},
		},
	}

	rec := ToNewsRecord("aapl", res)
	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, "positive", rec.Sentiment)
	assert.Equal(t, "strong quarter", rec.SentimentReasoning)
	// All insights preserved for the object-store body
	assert.Len(t, rec.Insights, 2)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), rec.Time)
}

func TestToFundamentalsRecord(t *testing.T) {
	res := FinancialsResult{
		EndDate:      "2024-12-28",
		StartDate:    "2024-09-29",
		FilingDate:   "2025-01-31",
		Timeframe:    "quarterly",
		FiscalPeriod: "Q1",
		FiscalYear:   "2025",
		CompanyName:  "Apple Inc.",
		Financials: Financials{
			IncomeStatement: IncomeStatement{
				Revenues:      LineItem{Value: 124_300_000_000},
				NetIncomeLoss: LineItem{Value: 36_330_000_000},
			},
			BalanceSheet: BalanceSheet{
				Assets: LineItem{Value: 344_085_000_000},
			},
			CashFlowStatement: CashFlowStatement{
				NetCashFlow: LineItem{Value: 1_000_000},
			},
		},
	}

	rec := ToFundamentalsRecord("AAPL", res)
	assert.Equal(t, domain.PeriodQuarterly, rec.PeriodType)
	assert.Equal(t, time.Date(2024, 12, 28, 0, 0, 0, 0, time.UTC), rec.EndDate)
	assert.Equal(t, 124_300_000_000.0, rec.Revenues)
	assert.Equal(t, 344_085_000_000.0, rec.TotalAssets)
	assert.Equal(t, 1_000_000.0, rec.NetCashFlow)
	assert.True(t, rec.Valid())
}
