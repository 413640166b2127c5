package massive

import (
	"time"

	"github.com/wavepilot/marketd/internal/domain"
)

// ToQuoteRecord maps an aggregate minute bar onto the minute measurement.
// The ticker argument wins over the bar's own T field (range aggs omit it).
func ToQuoteRecord(ticker string, bar AggBar) domain.QuoteRecord {
	if bar.Ticker != "" {
		ticker = bar.Ticker
	}
	return domain.QuoteRecord{
		Ticker: domain.NormalizeTicker(ticker),
		Market: domain.MarketUS,
		Time:   time.UnixMilli(bar.Timestamp).UTC(),
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: int64(bar.Volume),
		VWAP:   bar.VWAP,
		Trades: bar.Trades,
	}
}

// ToQuoteRecords maps a bar slice, dropping entries an identity cannot
// be formed for.
func ToQuoteRecords(ticker string, bars []AggBar) []domain.QuoteRecord {
	out := make([]domain.QuoteRecord, 0, len(bars))
	for _, b := range bars {
		q := ToQuoteRecord(ticker, b)
		if q.Valid() {
			out = append(out, q)
		}
	}
	return out
}

// ToDailyRecord maps a grouped-daily or daily-range bar onto the daily
// measurement, deriving change fields. The upstream stamps daily bars
// at midnight US/Eastern; the date is normalised through
// domain.TradingDate so this producer and the intraday snapshot share
// one identity per trading day.
func ToDailyRecord(ticker string, bar AggBar) domain.DailyRecord {
	if bar.Ticker != "" {
		ticker = bar.Ticker
	}
	d := domain.DailyRecord{
		Ticker: domain.NormalizeTicker(ticker),
		Market: domain.MarketUS,
		Date:   domain.TradingDate(time.UnixMilli(bar.Timestamp)),
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: int64(bar.Volume),
		VWAP:   bar.VWAP,
		Trades: bar.Trades,
	}
	return d.WithDerivedChange()
}

// SnapshotToDailyRecord maps one snapshot entry onto the daily
// measurement for the given trading date. Intraday snapshots are
// best-effort; the EOD grouped-daily write overwrites them.
func SnapshotToDailyRecord(entry SnapshotTicker, date time.Time) domain.DailyRecord {
	d := domain.DailyRecord{
		Ticker:        domain.NormalizeTicker(entry.Ticker),
		Market:        domain.MarketUS,
		Date:          date,
		Open:          entry.Day.Open,
		High:          entry.Day.High,
		Low:           entry.Day.Low,
		Close:         entry.Day.Close,
		Volume:        int64(entry.Day.Volume),
		VWAP:          entry.Day.VWAP,
		Change:        entry.TodaysChange,
		ChangePercent: entry.TodaysChangePerc,
		PreviousClose: entry.PrevDay.Close,
	}
	return d.WithDerivedChange()
}

// ToNewsRecord maps one news result onto a metadata record for the
// given primary ticker. Only the primary ticker's insight lands in the
// record fields; the whole array rides along for the object-store body.
func ToNewsRecord(primaryTicker string, res NewsResult) domain.NewsRecord {
	primaryTicker = domain.NormalizeTicker(primaryTicker)

	rec := domain.NewsRecord{
		ID:          res.ID,
		Ticker:      primaryTicker,
		Market:      domain.MarketUS,
		Title:       res.Title,
		URL:         res.ArticleURL,
		Source:      res.Publisher.Name,
		Author:      res.Author,
		Description: res.Description,
		ImageURL:    res.ImageURL,
		Keywords:    res.Keywords,
		Tickers:     res.Tickers,
	}

	if t, err := time.Parse(time.RFC3339, res.PublishedUTC); err == nil {
		rec.Time = t.UTC()
	}

	for _, ins := range res.Insights {
		rec.Insights = append(rec.Insights, domain.NewsInsight{
			Ticker:             ins.Ticker,
			Sentiment:          ins.Sentiment,
			SentimentReasoning: ins.SentimentReasoning,
		})
		if domain.NormalizeTicker(ins.Ticker) == primaryTicker {
			rec.Sentiment = ins.Sentiment
			rec.SentimentReasoning = ins.SentimentReasoning
		}
	}

	return rec
}

// ToFundamentalsRecord maps one reporting period onto a fundamentals
// record. Unknown timeframes default to quarterly, the cadence the
// worker polls at.
func ToFundamentalsRecord(ticker string, res FinancialsResult) domain.FundamentalsRecord {
	periodType := domain.PeriodQuarterly
	if res.Timeframe == "annual" {
		periodType = domain.PeriodAnnual
	}

	rec := domain.FundamentalsRecord{
		Ticker:       domain.NormalizeTicker(ticker),
		Market:       domain.MarketUS,
		PeriodType:   periodType,
		FiscalPeriod: res.FiscalPeriod,
		FiscalYear:   res.FiscalYear,
		CompanyName:  res.CompanyName,
		CIK:          res.CIK,
		SIC:          res.SIC,

		Revenues:        res.Financials.IncomeStatement.Revenues.Value,
		CostOfRevenue:   res.Financials.IncomeStatement.CostOfRevenue.Value,
		GrossProfit:     res.Financials.IncomeStatement.GrossProfit.Value,
		OperatingIncome: res.Financials.IncomeStatement.OperatingIncomeLoss.Value,
		NetIncome:       res.Financials.IncomeStatement.NetIncomeLoss.Value,
		DilutedEPS:      res.Financials.IncomeStatement.DilutedEarningsPerShare.Value,

		TotalAssets:        res.Financials.BalanceSheet.Assets.Value,
		TotalLiabilities:   res.Financials.BalanceSheet.Liabilities.Value,
		TotalEquity:        res.Financials.BalanceSheet.Equity.Value,
		CurrentAssets:      res.Financials.BalanceSheet.CurrentAssets.Value,
		CurrentLiabilities: res.Financials.BalanceSheet.CurrentLiabilities.Value,

		OperatingCashFlow: res.Financials.CashFlowStatement.NetCashFlowFromOperatingActivities.Value,
		InvestingCashFlow: res.Financials.CashFlowStatement.NetCashFlowFromInvestingActivities.Value,
		FinancingCashFlow: res.Financials.CashFlowStatement.NetCashFlowFromFinancingActivities.Value,
		NetCashFlow:       res.Financials.CashFlowStatement.NetCashFlow.Value,
	}

	if t, err := time.Parse("2006-01-02", res.EndDate); err == nil {
		rec.EndDate = t.UTC()
	}
	if t, err := time.Parse("2006-01-02", res.StartDate); err == nil {
		rec.StartDate = t.UTC()
	}
	if t, err := time.Parse("2006-01-02", res.FilingDate); err == nil {
		rec.FilingDate = t.UTC()
	}

	return rec
}
