package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wavepilot/marketd/internal/clients/massive"
	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/markethours"
)

// runSnapshot writes a best-effort daily bar for every common-stock
// ticker in the market from the all-tickers snapshot.
func (s *Scheduler) runSnapshot(ctx context.Context, force bool) error {
	if !force && !s.hours.IsMarketOpen(ctx) {
		s.log.Debug().Msg("Market closed, skipping snapshot")
		return nil
	}

	entries, err := s.market.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}

	date := s.tradingDate()
	records := make([]domain.DailyRecord, 0, len(entries))
	for _, entry := range entries {
		if !domain.MatchesFilter(entry.Ticker, domain.FilterCommon) {
			continue
		}
		rec := massive.SnapshotToDailyRecord(entry, date)
		if !rec.Valid() {
			continue
		}
		records = append(records, rec)
	}

	s.log.Info().Int("total", len(entries)).Int("written", len(records)).Msg("Snapshot processed")
	return s.writer.WriteDailyData(ctx, records)
}

// runSIPCorrection overwrites the minute bar at now-16m for each
// watchlist ticker with the authoritative delayed-tape value. One
// minute past the official 15-minute delay leaves headroom for
// upstream publication.
func (s *Scheduler) runSIPCorrection(ctx context.Context, force bool) error {
	if !force && !s.hours.IsMarketOpen(ctx) {
		return nil
	}

	target := s.now().UTC().Add(-sipCorrectionLag).Truncate(time.Minute)
	for _, ticker := range s.watchlist.List() {
		if err := s.correction.Wait(ctx); err != nil {
			return err
		}
		bars, err := s.market.MinuteAggs(ctx, ticker, target, target.Add(time.Minute), 1)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Minute correction fetch failed")
			continue
		}
		records := massive.ToQuoteRecords(ticker, bars)
		if len(records) == 0 {
			continue
		}
		if err := s.writer.WriteQuotes(ctx, records); err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Msg("Minute correction write failed")
		}
	}
	return nil
}

// runEOD rewrites the whole trading day from the authoritative tape:
// grouped-daily for the full market (common filter), then every minute
// bar of the day for each watchlist ticker (no filter).
func (s *Scheduler) runEOD(ctx context.Context, _ bool) error {
	date := s.tradingDate()

	bars, err := s.market.GroupedDaily(ctx, date)
	if err != nil {
		s.log.Error().Err(err).Msg("Grouped-daily fetch failed")
	} else {
		records := make([]domain.DailyRecord, 0, len(bars))
		for _, bar := range bars {
			if !domain.MatchesFilter(bar.Ticker, domain.FilterCommon) {
				continue
			}
			rec := massive.ToDailyRecord(bar.Ticker, bar)
			if !rec.Valid() {
				continue
			}
			records = append(records, rec)
		}
		s.log.Info().Int("total", len(bars)).Int("written", len(records)).Msg("Grouped-daily processed")
		if err := s.writer.WriteDailyData(ctx, records); err != nil {
			s.log.Error().Err(err).Msg("Grouped-daily write failed")
		}
	}

	et := s.now().In(markethours.Eastern())
	dayStart := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, markethours.Eastern())
	now := s.now().UTC()
	for _, ticker := range s.watchlist.List() {
		if err := s.general.Wait(ctx); err != nil {
			return err
		}
		minute, err := s.market.MinuteAggs(ctx, ticker, dayStart, now, backfillBarLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("EOD minute fetch failed")
			continue
		}
		records := massive.ToQuoteRecords(ticker, minute)
		if len(records) == 0 {
			continue
		}
		if err := s.writer.WriteQuotes(ctx, records); err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Msg("EOD minute write failed")
		}
	}
	return nil
}

// runNews lists recent news per watchlist ticker and delegates to the
// news store.
func (s *Scheduler) runNews(ctx context.Context, _ bool) error {
	for _, ticker := range s.watchlist.List() {
		if err := s.general.Wait(ctx); err != nil {
			return err
		}
		results, err := s.market.News(ctx, ticker, newsPerTicker)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("News fetch failed")
			continue
		}
		if len(results) == 0 {
			continue
		}
		records := make([]domain.NewsRecord, 0, len(results))
		for _, res := range results {
			records = append(records, massive.ToNewsRecord(ticker, res))
		}
		if err := s.news.SaveNews(ctx, records, s.fetchNews); err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Msg("News save failed")
		}
	}
	return nil
}

// runFundamentals fetches recent financial statements per watchlist
// ticker. Tickers the upstream has no coverage for are skipped.
func (s *Scheduler) runFundamentals(ctx context.Context, _ bool) error {
	for _, ticker := range s.watchlist.List() {
		if err := s.general.Wait(ctx); err != nil {
			return err
		}
		results, err := s.market.Financials(ctx, ticker, financialsPerTick)
		if err != nil {
			if errors.Is(err, massive.ErrNotAvailable) {
				s.log.Info().Str("ticker", ticker).Msg("Fundamentals not available, skipping")
				continue
			}
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Fundamentals fetch failed")
			continue
		}
		records := make([]domain.FundamentalsRecord, 0, len(results))
		for _, res := range results {
			rec := massive.ToFundamentalsRecord(ticker, res)
			if rec.Valid() {
				records = append(records, rec)
			}
		}
		if len(records) == 0 {
			continue
		}
		if err := s.writer.WriteFundamentals(ctx, records); err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Msg("Fundamentals write failed")
		}
	}
	return nil
}

// tradingDate is the canonical daily-bar identity for the current
// US/Eastern calendar day
func (s *Scheduler) tradingDate() time.Time {
	return domain.TradingDate(s.now())
}
