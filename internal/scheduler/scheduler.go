// Package scheduler drives the periodic batch jobs: intraday snapshot,
// per-minute delayed-tape correction, end-of-day rewrite, news and
// fundamentals. It owns the watchlist; mutations arrive through the
// control surface.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wavepilot/marketd/internal/clients/massive"
	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/markethours"
)

// Cron schedules, evaluated in US/Eastern (seconds field first)
const (
	scheduleSnapshot      = "0 */5 * * * MON-FRI"
	scheduleSIPCorrection = "0 * * * * MON-FRI"
	scheduleEOD           = "0 30 16 * * MON-FRI"
	scheduleNews          = "0 */15 * * * *"
	scheduleFundamentals  = "0 0 6 * * MON-FRI"
)

// Inter-ticker pacing within a job
const (
	generalPace    = 200 * time.Millisecond
	correctionPace = 100 * time.Millisecond
	backfillPace   = 300 * time.Millisecond
)

const (
	backfillDays      = 30
	backfillBarLimit  = 50000
	sipCorrectionLag  = 16 * time.Minute
	stageOneBoundary  = 15 * time.Minute
	newsPerTicker     = 10
	financialsPerTick = 4
)

// Job is a named unit of scheduled work
type Job interface {
	Run() error
	Name() string
}

// marketAPI is the slice of the upstream REST client the jobs consume
type marketAPI interface {
	Snapshot(ctx context.Context) ([]massive.SnapshotTicker, error)
	GroupedDaily(ctx context.Context, date time.Time) ([]massive.AggBar, error)
	MinuteAggs(ctx context.Context, ticker string, from, to time.Time, limit int) ([]massive.AggBar, error)
	DailyAggs(ctx context.Context, ticker string, from, to time.Time, limit int) ([]massive.AggBar, error)
	News(ctx context.Context, ticker string, limit int) ([]massive.NewsResult, error)
	Financials(ctx context.Context, ticker string, limit int) ([]massive.FinancialsResult, error)
}

// quoteStore is the downstream time-series surface
type quoteStore interface {
	WriteQuotes(ctx context.Context, quotes []domain.QuoteRecord) error
	WriteDailyData(ctx context.Context, daily []domain.DailyRecord) error
	WriteFundamentals(ctx context.Context, funds []domain.FundamentalsRecord) error
}

// newsSink is the news store the news job delegates to
type newsSink interface {
	SaveNews(ctx context.Context, records []domain.NewsRecord, fetchContent bool) error
}

// hoursService gates market-hour jobs
type hoursService interface {
	IsMarketOpen(ctx context.Context) bool
}

// Config holds scheduler dependencies
type Config struct {
	Market           marketAPI
	Writer           quoteStore
	News             newsSink
	Hours            hoursService
	Watchlist        *domain.Watchlist
	FetchNewsContent bool
	Log              zerolog.Logger
}

// Scheduler manages the cron table and the watchlist
type Scheduler struct {
	market    marketAPI
	writer    quoteStore
	news      newsSink
	hours     hoursService
	watchlist *domain.Watchlist
	fetchNews bool
	log       zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	general    *rate.Limiter
	correction *rate.Limiter
	backfill   *rate.Limiter

	now func() time.Time
}

// New creates a scheduler; Start registers the cron table
func New(cfg Config) *Scheduler {
	return &Scheduler{
		market:     cfg.Market,
		writer:     cfg.Writer,
		news:       cfg.News,
		hours:      cfg.Hours,
		watchlist:  cfg.Watchlist,
		fetchNews:  cfg.FetchNewsContent,
		log:        cfg.Log.With().Str("component", "scheduler").Logger(),
		general:    rate.NewLimiter(rate.Every(generalPace), 1),
		correction: rate.NewLimiter(rate.Every(correctionPace), 1),
		backfill:   rate.NewLimiter(rate.Every(backfillPace), 1),
		now:        time.Now,
	}
}

// job adapts a closure to the Job interface
type job struct {
	name string
	run  func() error
}

func (j job) Run() error   { return j.run() }
func (j job) Name() string { return j.name }

// table returns the cron entries. Each action receives force=false so
// the market gate applies.
func (s *Scheduler) table() []struct {
	schedule string
	job      Job
} {
	wrap := func(name string, run func(ctx context.Context, force bool) error) Job {
		return job{name: name, run: func() error {
			return run(context.Background(), false)
		}}
	}
	return []struct {
		schedule string
		job      Job
	}{
		{scheduleSnapshot, wrap("snapshot", s.runSnapshot)},
		{scheduleSIPCorrection, wrap("sipMinuteCorrection", s.runSIPCorrection)},
		{scheduleEOD, wrap("eod", s.runEOD)},
		{scheduleNews, wrap("news", s.runNews)},
		{scheduleFundamentals, wrap("fundamentals", s.runFundamentals)},
	}
}

// Start registers the cron table and starts it. Repeated calls are
// no-ops.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(markethours.Eastern()))
	for _, entry := range s.table() {
		entry := entry
		_, err := c.AddFunc(entry.schedule, func() {
			s.log.Debug().Str("job", entry.job.Name()).Msg("Running job")
			if err := entry.job.Run(); err != nil {
				s.log.Error().Err(err).Str("job", entry.job.Name()).Msg("Job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("registering job %s: %w", entry.job.Name(), err)
		}
		s.log.Info().Str("schedule", entry.schedule).Str("job", entry.job.Name()).Msg("Job registered")
	}

	c.Start()
	s.cron = c
	s.running = true
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop unregisters the table and waits for mid-fire handlers to return.
// Repeated calls are no-ops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.running = false
	s.log.Info().Msg("Scheduler stopped")
}

// Status reports running or stopped
func (s *Scheduler) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "running"
	}
	return "stopped"
}

// Watchlist returns the scheduler-owned watchlist
func (s *Scheduler) Watchlist() *domain.Watchlist {
	return s.watchlist
}

// RunTask executes one job action immediately, bypassing the market
// gate.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	var run func(ctx context.Context, force bool) error
	switch name {
	case "snapshot":
		run = s.runSnapshot
	case "sipMinuteCorrection":
		run = s.runSIPCorrection
	case "eod":
		run = s.runEOD
	case "news":
		run = s.runNews
	case "fundamentals":
		run = s.runFundamentals
	default:
		return fmt.Errorf("unknown task %q", name)
	}
	s.log.Info().Str("job", name).Msg("Running job immediately")
	return run(ctx, true)
}
