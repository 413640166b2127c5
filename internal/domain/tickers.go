package domain

import (
	"regexp"
	"strings"
)

// TickerFilter selects which symbols an all-tickers job is allowed to write
type TickerFilter string

const (
	// FilterAll passes every symbol through
	FilterAll TickerFilter = "all"
	// FilterMainboard passes 1-5 uppercase-letter symbols
	FilterMainboard TickerFilter = "mainboard"
	// FilterCommon additionally excludes warrants, units and rights
	FilterCommon TickerFilter = "common"
)

var (
	mainboardPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)
	warrantUnitRight = regexp.MustCompile(`^[A-Z]{4}(W|U|R)$`)
	warrantSuffix    = regexp.MustCompile(`^[A-Z]{3}WS$`)
)

// NormalizeTicker upper-cases and trims a user-supplied symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// MatchesFilter reports whether a ticker passes the given filter.
// Watchlist paths never call this; only all-tickers bulk jobs do.
func MatchesFilter(ticker string, filter TickerFilter) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterMainboard:
		return mainboardPattern.MatchString(ticker)
	case FilterCommon:
		if !mainboardPattern.MatchString(ticker) {
			return false
		}
		if warrantUnitRight.MatchString(ticker) || warrantSuffix.MatchString(ticker) {
			return false
		}
		return true
	default:
		return false
	}
}

// FilterTickers returns the subset of symbols passing the filter
func FilterTickers(tickers []string, filter TickerFilter) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if MatchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return out
}
