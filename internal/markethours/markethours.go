// Package markethours answers "is the US market open" for gating the
// streaming feeds and scheduled jobs. The upstream market-status API is
// authoritative; zoned time-of-day rules cover API outages.
package markethours

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavepilot/marketd/internal/clients/massive"
)

const (
	cacheTTL = 60 * time.Second
	// The delayed tape trails the session by this much; the delayed
	// feed stays connected past the close by the same margin.
	delayedTail = 15 * time.Minute
)

// Status is the tri-state session flag set
type Status struct {
	IsOpen     bool
	EarlyHours bool
	AfterHours bool
}

// StatusClient is the slice of the Massive client the service consumes
type StatusClient interface {
	MarketStatus(ctx context.Context) (*massive.MarketStatusResponse, error)
}

// Service resolves and caches market status
type Service struct {
	client StatusClient
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    Status
	fetchedAt time.Time
}

var eastern *time.Location

func init() {
	var err error
	eastern, err = time.LoadLocation("America/New_York")
	if err != nil {
		// No usable tz database; UTC keeps the process alive but the
		// fallback rules will be wrong, so this is loud.
		panic("markethours: cannot load America/New_York: " + err.Error())
	}
}

// Eastern returns the US market timezone
func Eastern() *time.Location {
	return eastern
}

// New creates a market-hours service. client may be nil, in which case
// only the clock rules apply.
func New(client StatusClient, log zerolog.Logger) *Service {
	return &Service{
		client: client,
		log:    log.With().Str("component", "market_hours").Logger(),
		now:    time.Now,
	}
}

// Status returns the current market status, from cache when fresh
func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) < cacheTTL {
		return s.cached
	}

	st, ok := s.fetch(ctx)
	if !ok {
		st = ClockStatus(now)
	}
	s.cached = st
	s.fetchedAt = now
	return st
}

func (s *Service) fetch(ctx context.Context) (Status, bool) {
	if s.client == nil {
		return Status{}, false
	}
	resp, err := s.client.MarketStatus(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Market status API failed, falling back to clock rules")
		return Status{}, false
	}
	st := Status{
		IsOpen:     resp.Market == "open",
		EarlyHours: resp.EarlyHours,
		AfterHours: resp.AfterHours,
	}
	if resp.Market == "extended-hours" && !resp.EarlyHours && !resp.AfterHours {
		// Older API revisions report extended-hours without the flags;
		// recover the side of the session from the clock.
		clock := ClockStatus(s.now())
		st.EarlyHours = clock.EarlyHours
		st.AfterHours = clock.AfterHours
	}
	return st, true
}

// IsMarketOpen reports whether the market is in regular hours
func (s *Service) IsMarketOpen(ctx context.Context) bool {
	return s.Status(ctx).IsOpen
}

// ShouldConnectFast gates the fast feed: regular hours only
func (s *Service) ShouldConnectFast(ctx context.Context) bool {
	return s.Status(ctx).IsOpen
}

// ShouldConnectDelayed gates the delayed feed: open through
// close + 15 min, so the tail of delayed bars arrives before
// disconnect. Clock-based on purpose: the status API reports closed
// during the tail window.
func (s *Service) ShouldConnectDelayed(context.Context) bool {
	t := s.now().In(eastern)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, eastern)
	cutoff := time.Date(t.Year(), t.Month(), t.Day(), 16, 0, 0, 0, eastern).Add(delayedTail)
	return !t.Before(open) && t.Before(cutoff)
}

// ClockStatus applies the US/Eastern time-of-day rules:
// earlyHours [04:00, 09:30), open [09:30, 16:00), afterHours
// [16:00, 20:00); weekends closed. DST falls out of the zoned
// conversion.
func ClockStatus(t time.Time) Status {
	et := t.In(eastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return Status{}
	}

	minutes := et.Hour()*60 + et.Minute()
	switch {
	case minutes >= 4*60 && minutes < 9*60+30:
		return Status{EarlyHours: true}
	case minutes >= 9*60+30 && minutes < 16*60:
		return Status{IsOpen: true}
	case minutes >= 16*60 && minutes < 20*60:
		return Status{AfterHours: true}
	default:
		return Status{}
	}
}
