package storage

import (
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wavepilot/marketd/internal/domain"
)

// Measurement names. Identity in the store is
// (measurement, tag set, timestamp); a later write with the same
// identity overwrites the earlier one.
const (
	MeasurementQuotes       = "stock_quotes_raw"
	MeasurementDaily        = "stock_quotes_aggregated"
	MeasurementNews         = "news"
	MeasurementFundamentals = "fundamentals"
)

func quotePoint(q domain.QuoteRecord) *write.Point {
	tags := map[string]string{
		"ticker": SanitizeTag(q.Ticker),
		"market": SanitizeTag(string(q.Market)),
	}
	fields := map[string]interface{}{
		"open":   q.Open,
		"high":   q.High,
		"low":    q.Low,
		"close":  q.Close,
		"volume": q.Volume,
	}
	if q.VWAP != 0 {
		fields["vwap"] = q.VWAP
	}
	if q.Trades != 0 {
		fields["trades"] = q.Trades
	}
	if q.Change != 0 {
		fields["change"] = q.Change
	}
	if q.ChangePercent != 0 {
		fields["changePercent"] = q.ChangePercent
	}
	if q.PreviousClose != 0 {
		fields["previousClose"] = q.PreviousClose
	}
	return influxdb2.NewPoint(MeasurementQuotes, tags, fields, q.Time)
}

func dailyPoint(d domain.DailyRecord) *write.Point {
	tags := map[string]string{
		"ticker": SanitizeTag(d.Ticker),
		"market": SanitizeTag(string(d.Market)),
	}
	fields := map[string]interface{}{
		"open":          d.Open,
		"high":          d.High,
		"low":           d.Low,
		"close":         d.Close,
		"volume":        d.Volume,
		"change":        d.Change,
		"changePercent": d.ChangePercent,
	}
	if d.VWAP != 0 {
		fields["vwap"] = d.VWAP
	}
	if d.Trades != 0 {
		fields["trades"] = d.Trades
	}
	if d.PreviousClose != 0 {
		fields["previousClose"] = d.PreviousClose
	}
	return influxdb2.NewPoint(MeasurementDaily, tags, fields, d.Date)
}

func newsPoint(n domain.NewsRecord) *write.Point {
	tags := map[string]string{
		"ticker": SanitizeTag(n.Ticker),
		"market": SanitizeTag(string(n.Market)),
		"source": SanitizeTag(n.Source),
	}
	fields := map[string]interface{}{
		"id":    SanitizeField(n.ID),
		"title": SanitizeField(n.Title),
		"url":   SanitizeField(n.URL),
	}
	if n.Author != "" {
		fields["author"] = SanitizeField(n.Author)
	}
	if n.Description != "" {
		fields["description"] = SanitizeField(n.Description)
	}
	if n.ImageURL != "" {
		fields["imageUrl"] = SanitizeField(n.ImageURL)
	}
	if len(n.Keywords) > 0 {
		fields["keywords"] = SanitizeField(strings.Join(n.Keywords, ","))
	}
	if len(n.Tickers) > 0 {
		fields["tickers"] = SanitizeField(strings.Join(n.Tickers, ","))
	}
	if n.Sentiment != "" {
		fields["sentiment"] = SanitizeField(n.Sentiment)
	}
	if n.SentimentReasoning != "" {
		fields["sentimentReasoning"] = SanitizeField(n.SentimentReasoning)
	}
	if n.S3Path != "" {
		fields["s3Path"] = SanitizeField(n.S3Path)
	}
	return influxdb2.NewPoint(MeasurementNews, tags, fields, n.Time)
}

func fundamentalsPoint(f domain.FundamentalsRecord) *write.Point {
	tags := map[string]string{
		"ticker":     SanitizeTag(f.Ticker),
		"market":     SanitizeTag(string(f.Market)),
		"periodType": SanitizeTag(string(f.PeriodType)),
	}
	fields := map[string]interface{}{
		"revenues":           f.Revenues,
		"costOfRevenue":      f.CostOfRevenue,
		"grossProfit":        f.GrossProfit,
		"operatingIncome":    f.OperatingIncome,
		"netIncome":          f.NetIncome,
		"dilutedEPS":         f.DilutedEPS,
		"totalAssets":        f.TotalAssets,
		"totalLiabilities":   f.TotalLiabilities,
		"totalEquity":        f.TotalEquity,
		"currentAssets":      f.CurrentAssets,
		"currentLiabilities": f.CurrentLiabilities,
		"operatingCashFlow":  f.OperatingCashFlow,
		"investingCashFlow":  f.InvestingCashFlow,
		"financingCashFlow":  f.FinancingCashFlow,
		"netCashFlow":        f.NetCashFlow,
	}
	if f.FiscalPeriod != "" {
		fields["fiscalPeriod"] = SanitizeField(f.FiscalPeriod)
	}
	if f.FiscalYear != "" {
		fields["fiscalYear"] = SanitizeField(f.FiscalYear)
	}
	if f.CompanyName != "" {
		fields["companyName"] = SanitizeField(f.CompanyName)
	}
	if f.CIK != "" {
		fields["cik"] = SanitizeField(f.CIK)
	}
	if f.SIC != "" {
		fields["sic"] = SanitizeField(f.SIC)
	}
	if !f.StartDate.IsZero() {
		fields["startDate"] = f.StartDate.Format("2006-01-02")
	}
	if !f.FilingDate.IsZero() {
		fields["filingDate"] = f.FilingDate.Format("2006-01-02")
	}
	return influxdb2.NewPoint(MeasurementFundamentals, tags, fields, f.EndDate)
}
