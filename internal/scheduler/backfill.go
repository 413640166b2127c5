package scheduler

import (
	"context"
	"time"

	"github.com/wavepilot/marketd/internal/clients/massive"
	"github.com/wavepilot/marketd/internal/domain"
)

// BackfillHistory fills 30 days of history for the given symbols:
// daily bars first, then minute bars clipped to at least 15 minutes in
// the past. Everything closer to now belongs to the fast feed's
// recent-window fill and the live stream; writing past the boundary
// would let non-authoritative REST data overwrite the live layers.
func (s *Scheduler) BackfillHistory(ctx context.Context, symbols []string) {
	now := s.now().UTC()
	from := now.AddDate(0, 0, -backfillDays)
	boundary := now.Add(-stageOneBoundary)

	for _, sym := range symbols {
		sym = domain.NormalizeTicker(sym)
		if sym == "" {
			continue
		}
		if err := s.backfill.Wait(ctx); err != nil {
			return
		}

		daily, err := s.market.DailyAggs(ctx, sym, from, now, 0)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", sym).Msg("Daily backfill fetch failed")
		} else if len(daily) > 0 {
			records := make([]domain.DailyRecord, 0, len(daily))
			for _, bar := range daily {
				rec := massive.ToDailyRecord(sym, bar)
				if rec.Valid() {
					records = append(records, rec)
				}
			}
			if err := s.writer.WriteDailyData(ctx, records); err != nil {
				s.log.Error().Err(err).Str("ticker", sym).Msg("Daily backfill write failed")
			}
		}

		minute, err := s.market.MinuteAggs(ctx, sym, from, now, backfillBarLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", sym).Msg("Minute backfill fetch failed")
			continue
		}
		records := clipQuotes(massive.ToQuoteRecords(sym, minute), boundary)
		if len(records) == 0 {
			continue
		}
		if err := s.writer.WriteQuotes(ctx, records); err != nil {
			s.log.Error().Err(err).Str("ticker", sym).Msg("Minute backfill write failed")
			continue
		}
		s.log.Info().Str("ticker", sym).Int("daily", len(daily)).Int("minute", len(records)).Msg("History backfilled")
	}
}

// clipQuotes drops bars newer than the boundary
func clipQuotes(records []domain.QuoteRecord, boundary time.Time) []domain.QuoteRecord {
	out := records[:0]
	for _, rec := range records {
		if !rec.Time.After(boundary) {
			out = append(out, rec)
		}
	}
	return out
}
