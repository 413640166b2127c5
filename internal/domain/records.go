// Package domain holds the shared data model of the ingestion worker:
// bar records, news and fundamentals records, markets, ticker filters
// and the watchlist.
package domain

import "time"

var eastern *time.Location

func init() {
	var err error
	eastern, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Daily-bar identities depend on the market timezone; running
		// without it would silently fork the daily measurement.
		panic("domain: cannot load America/New_York: " + err.Error())
	}
}

// TradingDate is the canonical identity instant for a daily bar:
// midnight UTC of the instant's US/Eastern calendar day. Every producer
// of the daily measurement stamps bars with this; otherwise the
// authoritative end-of-day rewrite cannot overwrite the intraday
// snapshot.
func TradingDate(t time.Time) time.Time {
	et := t.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, time.UTC)
}

// Market is the exchange locale a record belongs to
type Market string

const (
	MarketUS Market = "US"
	MarketCN Market = "CN"
	MarketHK Market = "HK"
)

// QuoteRecord is a one-minute OHLCV bar. Identity in the time-series
// store is (ticker, market, time); a later write with the same identity
// overwrites the earlier one, which is how delayed-tape correction works.
type QuoteRecord struct {
	Ticker string
	Market Market
	Time   time.Time // bar start

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	// Optional enrichments; zero means absent
	VWAP          float64
	Trades        int64
	Change        float64
	ChangePercent float64
	PreviousClose float64
}

// Valid reports whether the bar carries the minimum set of fields a
// stored point needs. Bars failing this are dropped, not written.
func (q QuoteRecord) Valid() bool {
	return q.Ticker != "" && !q.Time.IsZero() && q.Open != 0 && q.Close != 0
}

// DailyRecord is a daily OHLCV bar, keyed by (ticker, market, date).
// Snapshot writes it intraday best-effort; grouped-daily overwrites it
// after the close.
type DailyRecord struct {
	Ticker string
	Market Market
	Date   time.Time

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	VWAP          float64
	Trades        int64
	Change        float64
	ChangePercent float64
	PreviousClose float64
}

// Valid mirrors QuoteRecord.Valid for the daily measurement
func (d DailyRecord) Valid() bool {
	return d.Ticker != "" && !d.Date.IsZero() && d.Open != 0 && d.Close != 0
}

// WithDerivedChange fills Change/ChangePercent from open and close when
// the upstream response did not carry them.
func (d DailyRecord) WithDerivedChange() DailyRecord {
	if d.Change == 0 && d.ChangePercent == 0 && d.Open != 0 {
		d.Change = d.Close - d.Open
		d.ChangePercent = d.Change / d.Open * 100
	}
	return d
}

// NewsInsight is a per-ticker sentiment annotation on a news item
type NewsInsight struct {
	Ticker             string `json:"ticker"`
	Sentiment          string `json:"sentiment"`
	SentimentReasoning string `json:"sentiment_reasoning,omitempty"`
}

// NewsRecord is news metadata keyed by (id, ticker). The article body,
// when fetched, lives in the object store; S3Path points back at it.
type NewsRecord struct {
	ID     string
	Ticker string
	Market Market
	Time   time.Time // published_utc

	Title       string
	URL         string
	Source      string // publisher name
	Author      string
	Description string
	ImageURL    string
	Keywords    []string
	Tickers     []string

	// Primary-ticker insight only; the full insight array is preserved
	// in the object-store body.
	Sentiment          string
	SentimentReasoning string
	Insights           []NewsInsight

	S3Path string
}

// Valid reports whether the record can be stored
func (n NewsRecord) Valid() bool {
	return n.ID != "" && n.Ticker != "" && !n.Time.IsZero()
}

// PeriodType distinguishes quarterly from annual fundamentals
type PeriodType string

const (
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
)

// FundamentalsRecord carries quarterly or annual financial-statement
// scalars, keyed by (ticker, market, periodType, end date).
type FundamentalsRecord struct {
	Ticker     string
	Market     Market
	PeriodType PeriodType
	EndDate    time.Time

	StartDate    time.Time
	FilingDate   time.Time
	FiscalPeriod string
	FiscalYear   string
	CompanyName  string
	CIK          string
	SIC          string

	// Income statement
	Revenues        float64
	CostOfRevenue   float64
	GrossProfit     float64
	OperatingIncome float64
	NetIncome       float64
	DilutedEPS      float64

	// Balance sheet
	TotalAssets        float64
	TotalLiabilities   float64
	TotalEquity        float64
	CurrentAssets      float64
	CurrentLiabilities float64

	// Cash flow
	OperatingCashFlow float64
	InvestingCashFlow float64
	FinancingCashFlow float64
	NetCashFlow       float64
}

// Valid reports whether the record can be stored
func (f FundamentalsRecord) Valid() bool {
	return f.Ticker != "" && f.PeriodType != "" && !f.EndDate.IsZero()
}
