// Package iexfeed streams real-time minute bars from the fast (IEX)
// tape via the Alpaca SDK and fills the most recent 15 minutes over
// REST whenever a new symbol is subscribed.
package iexfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/rs/zerolog"

	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/feeds"
)

const (
	backfillWindow = 15 * time.Minute

	baseReconnectDelay   = 5 * time.Second
	maxReconnectAttempts = 10
)

// streamClient is the slice of the SDK stream client the feed consumes
type streamClient interface {
	Connect(ctx context.Context) error
	Terminated() <-chan error
	SubscribeToBars(handler func(stream.Bar), symbols ...string) error
	UnsubscribeFromBars(symbols ...string) error
}

// barFetcher is the REST surface used for the recent-window fill
type barFetcher interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// quoteWriter is the downstream the bars land in
type quoteWriter interface {
	WriteQuotes(ctx context.Context, quotes []domain.QuoteRecord) error
}

// hoursService gates the connection lifecycle
type hoursService interface {
	ShouldConnectFast(ctx context.Context) bool
}

// Config holds fast-feed configuration
type Config struct {
	Key    string
	Secret string
	Hours  hoursService
	Writer quoteWriter
	Log    zerolog.Logger
}

// Feed is the fast-feed connection manager. The market monitor owns
// the lifecycle: a session is opened only while the market is in
// regular hours and the intent flag is set.
type Feed struct {
	hours  hoursService
	writer quoteWriter
	rest   barFetcher
	log    zerolog.Logger

	mu                sync.Mutex
	shouldBeConnected bool
	connected         bool
	connecting        bool
	reconnecting      bool
	attempts          int
	cancel            context.CancelFunc
	stream            streamClient

	subs    *feeds.Set
	monitor *feeds.Monitor

	stopOnce sync.Once
	stopChan chan struct{}

	// swapped out in tests
	newStream func() streamClient
	now       func() time.Time
	backoff   time.Duration
}

// New builds the fast feed; Connect starts its monitor
func New(cfg Config) *Feed {
	f := &Feed{
		hours:  cfg.Hours,
		writer: cfg.Writer,
		rest: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.Key,
			APISecret: cfg.Secret,
		}),
		log:      cfg.Log.With().Str("component", "iexfeed").Logger(),
		subs:     feeds.NewSet(),
		stopChan: make(chan struct{}),
		now:      time.Now,
		backoff:  baseReconnectDelay,
	}
	f.newStream = func() streamClient {
		return stream.NewStocksClient(
			marketdata.IEX,
			stream.WithCredentials(cfg.Key, cfg.Secret),
			// The monitor owns reconnection; keep the SDK's own loop
			// from fighting it.
			stream.WithReconnectSettings(1, time.Second),
		)
	}
	f.monitor = feeds.NewMonitor(feeds.CheckInterval, f.checkAndConnect)
	return f
}

// Connect sets the intent flag and starts the market monitor. The
// socket itself opens on the first monitor tick that finds the market
// open.
func (f *Feed) Connect() {
	f.mu.Lock()
	f.shouldBeConnected = true
	f.mu.Unlock()
	f.monitor.Start()
	f.log.Info().Msg("Fast feed enabled, monitor started")
}

// Close drops the intent flag, stops the monitor and closes any open
// session.
func (f *Feed) Close() {
	f.mu.Lock()
	f.shouldBeConnected = false
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopChan) })
	f.monitor.Stop()
	f.closeSession("shutdown")
}

func (f *Feed) checkAndConnect() {
	ctx := context.Background()
	shouldConnect := f.hours.ShouldConnectFast(ctx)

	f.mu.Lock()
	intent := f.shouldBeConnected
	connected := f.connected
	connecting := f.connecting
	reconnecting := f.reconnecting
	f.mu.Unlock()

	switch {
	case shouldConnect && !connected && !connecting && !reconnecting && intent:
		if err := f.openSession(); err != nil {
			f.log.Error().Err(err).Msg("Fast feed connection failed")
			f.scheduleReconnect()
		}
	case !shouldConnect && connected:
		f.log.Info().Msg("Market closed, disconnecting fast feed")
		f.closeSession("market closed")
		f.mu.Lock()
		f.attempts = 0
		f.mu.Unlock()
	}
}

func (f *Feed) openSession() error {
	f.mu.Lock()
	if f.connecting || f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connecting = true
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client := f.newStream()

	f.log.Info().Msg("Connecting to fast feed")
	if err := client.Connect(ctx); err != nil {
		cancel()
		f.mu.Lock()
		f.connecting = false
		f.mu.Unlock()
		return fmt.Errorf("connecting fast feed: %w", err)
	}

	symbols := f.subs.All()
	if len(symbols) > 0 {
		if err := client.SubscribeToBars(f.handleBar, symbols...); err != nil {
			cancel()
			f.mu.Lock()
			f.connecting = false
			f.mu.Unlock()
			return fmt.Errorf("subscribing fast feed: %w", err)
		}
		f.subs.MarkActive(symbols)
	}

	f.mu.Lock()
	f.stream = client
	f.cancel = cancel
	f.connected = true
	f.connecting = false
	f.attempts = 0
	f.mu.Unlock()

	f.log.Info().Int("subscriptions", len(symbols)).Msg("Fast feed connected")

	go func() {
		err := <-client.Terminated()
		f.mu.Lock()
		wasConnected := f.connected && f.stream == client
		intent := f.shouldBeConnected
		if wasConnected {
			f.connected = false
			f.stream = nil
			f.cancel = nil
		}
		f.mu.Unlock()
		if !wasConnected {
			return
		}
		f.subs.Reset()
		if err != nil {
			f.log.Warn().Err(err).Msg("Fast feed terminated")
		} else {
			f.log.Info().Msg("Fast feed session ended")
		}
		if intent {
			f.scheduleReconnect()
		}
	}()
	return nil
}

// scheduleReconnect starts the backoff loop unless one is already
// running or the intent flag has been dropped.
func (f *Feed) scheduleReconnect() {
	f.mu.Lock()
	if f.reconnecting || !f.shouldBeConnected {
		f.mu.Unlock()
		return
	}
	f.reconnecting = true
	f.mu.Unlock()
	go f.reconnectLoop()
}

func (f *Feed) reconnectLoop() {
	defer func() {
		f.mu.Lock()
		f.reconnecting = false
		f.mu.Unlock()
	}()

	for {
		f.mu.Lock()
		f.attempts++
		attempt := f.attempts
		intent := f.shouldBeConnected
		f.mu.Unlock()

		if !intent {
			return
		}
		if attempt > maxReconnectAttempts {
			f.log.Error().Int("attempts", maxReconnectAttempts).Msg("Fast feed reconnect budget exhausted, feed stopped")
			return
		}

		delay := f.backoff * time.Duration(attempt)
		f.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Fast feed reconnecting")

		select {
		case <-time.After(delay):
		case <-f.stopChan:
			return
		}

		// Outside regular hours there is nothing to stream; the monitor
		// reconnects at the next open.
		if !f.hours.ShouldConnectFast(context.Background()) {
			f.mu.Lock()
			f.attempts = 0
			f.mu.Unlock()
			f.log.Info().Msg("Market closed during reconnect, cancelling and resetting budget")
			return
		}

		if err := f.openSession(); err != nil {
			f.log.Error().Err(err).Int("attempt", attempt).Msg("Fast feed reconnect failed")
			continue
		}
		return
	}
}

func (f *Feed) closeSession(reason string) {
	f.mu.Lock()
	cancel := f.cancel
	f.connected = false
	f.stream = nil
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		f.subs.Reset()
		f.log.Info().Str("reason", reason).Msg("Fast feed session closed")
	}
}

func (f *Feed) handleBar(b stream.Bar) {
	rec := domain.QuoteRecord{
		Ticker: b.Symbol,
		Market: domain.MarketUS,
		Time:   b.Timestamp.UTC(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: int64(b.Volume),
		VWAP:   b.VWAP,
		Trades: int64(b.TradeCount),
	}
	if err := f.writer.WriteQuotes(context.Background(), []domain.QuoteRecord{rec}); err != nil {
		f.log.Error().Err(err).Str("ticker", rec.Ticker).Msg("Fast feed bar write failed")
	}
}

// Subscribe adds symbols. New symbols are subscribed on the wire when
// the session is live, retained otherwise, and in either case get the
// recent-window REST fill.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) error {
	newSyms := f.subs.Diff(symbols)
	if len(newSyms) == 0 {
		return nil
	}

	f.mu.Lock()
	client := f.stream
	connected := f.connected
	f.mu.Unlock()

	if connected && client != nil {
		if err := client.SubscribeToBars(f.handleBar, newSyms...); err != nil {
			f.subs.MarkPending(newSyms)
			f.log.Error().Err(err).Strs("symbols", newSyms).Msg("Wire subscribe failed, retained as pending")
		} else {
			f.subs.MarkActive(newSyms)
		}
	} else {
		f.subs.MarkPending(newSyms)
	}

	f.log.Info().Strs("symbols", newSyms).Msg("Fast feed subscriptions added")
	return f.backfillRecent(ctx, newSyms)
}

// backfillRecent fills [now-15m, now] over REST for newly subscribed
// symbols. The response is re-clipped to the window; the upstream
// occasionally returns bars from before the requested start.
func (f *Feed) backfillRecent(ctx context.Context, symbols []string) error {
	now := f.now().UTC()
	from := now.Add(-backfillWindow)

	for _, sym := range symbols {
		bars, err := f.rest.GetBars(sym, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneMin,
			Start:     from,
			End:       now,
			Feed:      marketdata.IEX,
		})
		if err != nil {
			f.log.Error().Err(err).Str("ticker", sym).Msg("Recent-window fill failed")
			continue
		}

		records := make([]domain.QuoteRecord, 0, len(bars))
		for _, b := range bars {
			ts := b.Timestamp.UTC()
			if ts.Before(from) || ts.After(now) {
				continue
			}
			records = append(records, domain.QuoteRecord{
				Ticker: sym,
				Market: domain.MarketUS,
				Time:   ts,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: int64(b.Volume),
				VWAP:   b.VWAP,
				Trades: int64(b.TradeCount),
			})
		}
		if len(records) == 0 {
			continue
		}
		if err := f.writer.WriteQuotes(ctx, records); err != nil {
			f.log.Error().Err(err).Str("ticker", sym).Msg("Recent-window fill write failed")
		}
	}
	return nil
}

// Unsubscribe removes symbols from the local set and the wire
func (f *Feed) Unsubscribe(_ context.Context, symbols []string) error {
	wasActive := f.subs.Remove(symbols)

	f.mu.Lock()
	client := f.stream
	connected := f.connected
	f.mu.Unlock()

	if connected && client != nil && len(wasActive) > 0 {
		if err := client.UnsubscribeFromBars(wasActive...); err != nil {
			f.log.Error().Err(err).Strs("symbols", wasActive).Msg("Wire unsubscribe failed")
		}
	}
	f.log.Info().Strs("symbols", symbols).Msg("Fast feed subscriptions removed")
	return nil
}

// Subscriptions lists the tracked symbols
func (f *Feed) Subscriptions() []string {
	return f.subs.All()
}

// Status reports connected or disconnected
func (f *Feed) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return feeds.StatusConnected
	}
	return feeds.StatusDisconnected
}
