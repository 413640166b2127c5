package massive

// Wire types for the Massive REST API. Field names mirror the upstream
// JSON; transformers.go maps them onto domain records.

// AggBar is a single aggregate bar as returned by the aggs endpoints
type AggBar struct {
	Ticker    string  `json:"T,omitempty"`
	Timestamp int64   `json:"t"` // bar start, unix millis
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	VWAP      float64 `json:"vw,omitempty"`
	Trades    int64   `json:"n,omitempty"`
}

// AggsResponse wraps ticker-range and grouped-daily aggregate results
type AggsResponse struct {
	Ticker       string   `json:"ticker,omitempty"`
	ResultsCount int      `json:"resultsCount"`
	Results      []AggBar `json:"results"`
	Status       string   `json:"status,omitempty"`
	NextURL      string   `json:"next_url,omitempty"`
}

// SnapshotDay is the current-day summary inside a snapshot entry
type SnapshotDay struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	VWAP   float64 `json:"vw,omitempty"`
}

// SnapshotTicker is one entry of the all-tickers snapshot
type SnapshotTicker struct {
	Ticker           string      `json:"ticker"`
	Day              SnapshotDay `json:"day"`
	PrevDay          SnapshotDay `json:"prevDay"`
	TodaysChange     float64     `json:"todaysChange,omitempty"`
	TodaysChangePerc float64     `json:"todaysChangePerc,omitempty"`
	Updated          int64       `json:"updated,omitempty"`
}

// SnapshotResponse wraps the all-tickers snapshot. Older API revisions
// use "tickers", newer ones "results"; both are accepted.
type SnapshotResponse struct {
	Tickers []SnapshotTicker `json:"tickers"`
	Results []SnapshotTicker `json:"results"`
	Status  string           `json:"status,omitempty"`
}

// Entries returns whichever of the two result arrays is populated
func (r *SnapshotResponse) Entries() []SnapshotTicker {
	if len(r.Tickers) > 0 {
		return r.Tickers
	}
	return r.Results
}

// NewsPublisher identifies the news source
type NewsPublisher struct {
	Name string `json:"name"`
}

// NewsInsight is the per-ticker sentiment annotation on a news result
type NewsInsight struct {
	Ticker             string `json:"ticker"`
	Sentiment          string `json:"sentiment"`
	SentimentReasoning string `json:"sentiment_reasoning,omitempty"`
}

// NewsResult is one article's metadata
type NewsResult struct {
	ID           string        `json:"id"`
	Publisher    NewsPublisher `json:"publisher"`
	Title        string        `json:"title"`
	Author       string        `json:"author,omitempty"`
	PublishedUTC string        `json:"published_utc"`
	ArticleURL   string        `json:"article_url"`
	Tickers      []string      `json:"tickers,omitempty"`
	ImageURL     string        `json:"image_url,omitempty"`
	Description  string        `json:"description,omitempty"`
	Keywords     []string      `json:"keywords,omitempty"`
	Insights     []NewsInsight `json:"insights,omitempty"`
}

// NewsResponse wraps the reference news listing
type NewsResponse struct {
	Results []NewsResult `json:"results"`
	Status  string       `json:"status,omitempty"`
}

// LineItem is one financial-statement scalar
type LineItem struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Label string  `json:"label,omitempty"`
}

// IncomeStatement carries the income-statement line items we persist
type IncomeStatement struct {
	Revenues                LineItem `json:"revenues"`
	CostOfRevenue           LineItem `json:"cost_of_revenue"`
	GrossProfit             LineItem `json:"gross_profit"`
	OperatingIncomeLoss     LineItem `json:"operating_income_loss"`
	NetIncomeLoss           LineItem `json:"net_income_loss"`
	DilutedEarningsPerShare LineItem `json:"diluted_earnings_per_share"`
}

// BalanceSheet carries the balance-sheet line items we persist
type BalanceSheet struct {
	Assets             LineItem `json:"assets"`
	Liabilities        LineItem `json:"liabilities"`
	Equity             LineItem `json:"equity"`
	CurrentAssets      LineItem `json:"current_assets"`
	CurrentLiabilities LineItem `json:"current_liabilities"`
}

// CashFlowStatement carries the cash-flow line items we persist
type CashFlowStatement struct {
	NetCashFlowFromOperatingActivities LineItem `json:"net_cash_flow_from_operating_activities"`
	NetCashFlowFromInvestingActivities LineItem `json:"net_cash_flow_from_investing_activities"`
	NetCashFlowFromFinancingActivities LineItem `json:"net_cash_flow_from_financing_activities"`
	NetCashFlow                        LineItem `json:"net_cash_flow"`
}

// Financials groups the three statements
type Financials struct {
	IncomeStatement   IncomeStatement   `json:"income_statement"`
	BalanceSheet      BalanceSheet      `json:"balance_sheet"`
	CashFlowStatement CashFlowStatement `json:"cash_flow_statement"`
}

// FinancialsResult is one reporting period
type FinancialsResult struct {
	EndDate      string     `json:"end_date"`
	StartDate    string     `json:"start_date,omitempty"`
	FilingDate   string     `json:"filing_date,omitempty"`
	Timeframe    string     `json:"timeframe,omitempty"` // quarterly | annual
	FiscalPeriod string     `json:"fiscal_period,omitempty"`
	FiscalYear   string     `json:"fiscal_year,omitempty"`
	CompanyName  string     `json:"company_name,omitempty"`
	CIK          string     `json:"cik,omitempty"`
	SIC          string     `json:"sic,omitempty"`
	Financials   Financials `json:"financials"`
}

// FinancialsResponse wraps the reference financials listing
type FinancialsResponse struct {
	Results []FinancialsResult `json:"results"`
	Status  string             `json:"status,omitempty"`
}

// MarketStatusResponse is the live market status
type MarketStatusResponse struct {
	Market     string `json:"market"` // open | closed | extended-hours
	AfterHours bool   `json:"afterHours,omitempty"`
	EarlyHours bool   `json:"earlyHours,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
}
