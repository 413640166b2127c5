// Package sipfeed streams delayed aggregate-minute bars from the
// consolidated tape over a websocket. Bars land in the same minute
// measurement the fast feed writes, so each delayed bar overwrites the
// fast bar for its minute; that overwrite is the live correction
// mechanism.
package sipfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/feeds"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectAttempts = 10
)

// wsConn is the slice of the websocket connection the feed consumes
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// quoteWriter is the downstream the bars land in
type quoteWriter interface {
	WriteQuotes(ctx context.Context, quotes []domain.QuoteRecord) error
}

// hoursService gates the connection lifecycle
type hoursService interface {
	ShouldConnectDelayed(ctx context.Context) bool
}

// message is the wire schema; status and aggregate-minute events share
// one envelope distinguished by ev.
type message struct {
	Ev      string `json:"ev"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	Sym    string  `json:"sym,omitempty"`
	Open   float64 `json:"o,omitempty"`
	High   float64 `json:"h,omitempty"`
	Low    float64 `json:"l,omitempty"`
	Close  float64 `json:"c,omitempty"`
	Volume int64   `json:"v,omitempty"`
	VWAP   float64 `json:"vw,omitempty"`
	Trades int64   `json:"z,omitempty"`
	Start  int64   `json:"s,omitempty"` // bar start, Unix ms
	End    int64   `json:"e,omitempty"`
}

type action struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// Config holds delayed-feed configuration
type Config struct {
	URL    string
	APIKey string
	Hours  hoursService
	Writer quoteWriter
	Log    zerolog.Logger
}

// Feed is the delayed-feed connection manager
type Feed struct {
	url    string
	apiKey string
	hours  hoursService
	writer quoteWriter
	log    zerolog.Logger

	mu                sync.Mutex
	shouldBeConnected bool
	connected         bool
	authenticated     bool
	connecting        bool
	reconnecting      bool
	authFailed        bool
	attempts          int
	conn              wsConn
	connCancel        context.CancelFunc

	subs    *feeds.Set
	monitor *feeds.Monitor

	stopOnce sync.Once
	stopChan chan struct{}

	// swapped out in tests
	dial    func(ctx context.Context) (wsConn, error)
	backoff time.Duration
}

// New builds the delayed feed; Connect starts its monitor
func New(cfg Config) *Feed {
	f := &Feed{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		hours:    cfg.Hours,
		writer:   cfg.Writer,
		log:      cfg.Log.With().Str("component", "sipfeed").Logger(),
		subs:     feeds.NewSet(),
		stopChan: make(chan struct{}),
		backoff:  baseReconnectDelay,
	}
	f.dial = func(ctx context.Context) (wsConn, error) {
		conn, _, err := websocket.Dial(ctx, f.url, nil)
		return conn, err
	}
	f.monitor = feeds.NewMonitor(feeds.CheckInterval, f.checkAndConnect)
	return f
}

// Connect sets the intent flag and starts the market monitor
func (f *Feed) Connect() {
	f.mu.Lock()
	f.shouldBeConnected = true
	f.mu.Unlock()
	f.monitor.Start()
	f.log.Info().Msg("Delayed feed enabled, monitor started")
}

// Close drops the intent flag, stops the monitor and closes the socket
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
	shouldConnect := f.hours.ShouldConnectDelayed(ctx)

	f.mu.Lock()
	intent := f.shouldBeConnected
	connected := f.connected
	connecting := f.connecting
	reconnecting := f.reconnecting
	authFailed := f.authFailed
	f.mu.Unlock()

	switch {
	case authFailed:
		// Terminal for this feed; nothing to do until restart
	case shouldConnect && !connected && !connecting && !reconnecting && intent:
		if err := f.openSession(); err != nil {
			f.log.Error().Err(err).Msg("Delayed feed connection failed")
			f.scheduleReconnect()
		}
	case !shouldConnect && connected:
		f.log.Info().Msg("Past the delayed tail, disconnecting delayed feed")
		f.closeSession("market closed")
		f.mu.Lock()
		f.attempts = 0
		f.mu.Unlock()
	}
}

// openSession dials, authenticates and starts the read and heartbeat
// loops. Authentication completes asynchronously via the status
// message; subscriptions are drained there.
func (f *Feed) openSession() error {
	f.mu.Lock()
	if f.connecting || f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connecting = true
	f.mu.Unlock()

	f.log.Info().Str("url", f.url).Msg("Connecting to delayed feed")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, err := f.dial(dialCtx)
	if err != nil {
		f.mu.Lock()
		f.connecting = false
		f.mu.Unlock()
		return fmt.Errorf("dialing delayed feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	if err := f.send(connCtx, conn, action{Action: "auth", Params: f.apiKey}); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth send failed")
		f.mu.Lock()
		f.connecting = false
		f.mu.Unlock()
		return fmt.Errorf("sending auth: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connCancel = connCancel
	f.connected = true
	f.connecting = false
	f.authenticated = false
	f.mu.Unlock()

	go f.readLoop(connCtx, conn)
	go f.heartbeat(connCtx, conn)
	return nil
}

func (f *Feed) closeSession(reason string) {
	f.mu.Lock()
	conn := f.conn
	cancel := f.connCancel
	f.conn = nil
	f.connCancel = nil
	f.connected = false
	f.authenticated = false
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, reason)
		f.subs.Reset()
		f.log.Info().Str("reason", reason).Msg("Delayed feed session closed")
	}
}

func (f *Feed) send(ctx context.Context, conn wsConn, msg action) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (f *Feed) readLoop(ctx context.Context, conn wsConn) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			f.mu.Lock()
			wasCurrent := f.conn == conn
			authFailed := f.authFailed
			intent := f.shouldBeConnected
			var cancel context.CancelFunc
			if wasCurrent {
				f.conn = nil
				f.connected = false
				f.authenticated = false
				cancel = f.connCancel
				f.connCancel = nil
			}
			f.mu.Unlock()

			// Deliberate close; closeSession already cancelled the
			// heartbeat.
			deliberate := !wasCurrent || ctx.Err() != nil

			// Stop the heartbeat for this connection before anything else
			if cancel != nil {
				cancel()
			}
			if deliberate {
				return
			}
			f.subs.Reset()
			if authFailed {
				return
			}
			f.log.Warn().Err(err).Msg("Delayed feed read failed")
			if intent {
				f.scheduleReconnect()
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		f.handleMessage(data)
	}
}

// heartbeat pings every 30 s; a pong missing its 10 s deadline force
// terminates the connection and the read loop schedules reconnect.
func (f *Feed) heartbeat(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.log.Warn().Err(err).Msg("Pong deadline missed, terminating delayed feed connection")
				conn.Close(websocket.StatusPolicyViolation, "pong timeout")
				return
			}
		}
	}
}

// handleMessage parses one frame; the server sends either a single
// message object or an array of them.
func (f *Feed) handleMessage(data []byte) {
	var msgs []message
	if err := json.Unmarshal(data, &msgs); err != nil {
		var single message
		if err := json.Unmarshal(data, &single); err != nil {
			f.log.Warn().Str("frame", string(data)).Msg("Unparseable delayed feed frame")
			return
		}
		msgs = []message{single}
	}
	for _, msg := range msgs {
		switch msg.Ev {
		case "status":
			f.handleStatus(msg)
		case "AM":
			f.handleAggregate(msg)
		default:
			f.log.Debug().Str("ev", msg.Ev).Msg("Ignoring delayed feed event")
		}
	}
}

func (f *Feed) handleStatus(msg message) {
	switch msg.Status {
	case "auth_success":
		f.onAuthenticated()
	case "auth_failed":
		f.log.Error().Str("message", msg.Message).Msg("Delayed feed authentication rejected, feed stopped")
		f.mu.Lock()
		f.authFailed = true
		cancel := f.connCancel
		f.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case "connected":
		f.log.Debug().Msg("Delayed feed socket acknowledged")
	default:
		f.log.Debug().Str("status", msg.Status).Str("message", msg.Message).Msg("Delayed feed status")
	}
}

// onAuthenticated drains the pending set onto the wire and resets the
// reconnect budget.
func (f *Feed) onAuthenticated() {
	f.mu.Lock()
	f.authenticated = true
	f.attempts = 0
	conn := f.conn
	f.mu.Unlock()

	f.log.Info().Msg("Delayed feed authenticated")

	symbols := f.subs.All()
	if len(symbols) == 0 || conn == nil {
		return
	}
	if err := f.send(context.Background(), conn, subscribeAction(symbols)); err != nil {
		f.log.Error().Err(err).Msg("Re-subscribe after auth failed")
		return
	}
	f.subs.MarkActive(symbols)
	f.log.Info().Int("count", len(symbols)).Msg("Delayed feed subscriptions restored")
}

func subscribeAction(symbols []string) action {
	channels := make([]string, len(symbols))
	for i, sym := range symbols {
		channels[i] = "AM." + sym
	}
	return action{Action: "subscribe", Params: strings.Join(channels, ",")}
}

func unsubscribeAction(symbols []string) action {
	channels := make([]string, len(symbols))
	for i, sym := range symbols {
		channels[i] = "AM." + sym
	}
	return action{Action: "unsubscribe", Params: strings.Join(channels, ",")}
}

func (f *Feed) handleAggregate(msg message) {
	rec := domain.QuoteRecord{
		Ticker: msg.Sym,
		Market: domain.MarketUS,
		Time:   time.UnixMilli(msg.Start).UTC(),
		Open:   msg.Open,
		High:   msg.High,
		Low:    msg.Low,
		Close:  msg.Close,
		Volume: msg.Volume,
		VWAP:   msg.VWAP,
		Trades: msg.Trades,
	}
	if msg.Start == 0 || !rec.Valid() {
		f.log.Warn().Str("ticker", msg.Sym).Int64("start", msg.Start).Msg("Dropping incomplete aggregate")
		return
	}
	if err := f.writer.WriteQuotes(context.Background(), []domain.QuoteRecord{rec}); err != nil {
		f.log.Error().Err(err).Str("ticker", rec.Ticker).Msg("Delayed bar write failed")
	}
}

// scheduleReconnect starts the backoff loop unless one is already
// running or the feed is terminally stopped.
func (f *Feed) scheduleReconnect() {
	f.mu.Lock()
	if f.reconnecting || !f.shouldBeConnected || f.authFailed {
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
			f.log.Error().Int("attempts", maxReconnectAttempts).Msg("Delayed feed reconnect budget exhausted, feed stopped")
			return
		}

		delay := f.backoff * time.Duration(attempt)
		f.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Delayed feed reconnecting")

		select {
		case <-time.After(delay):
		case <-f.stopChan:
			return
		}

		// Past close+15m there is nothing left to stream; let the
		// monitor reconnect at the next open.
		if !f.hours.ShouldConnectDelayed(context.Background()) {
			f.mu.Lock()
			f.attempts = 0
			f.mu.Unlock()
			f.log.Info().Msg("Market closed during reconnect, cancelling and resetting budget")
			return
		}

		if err := f.openSession(); err != nil {
			f.log.Error().Err(err).Int("attempt", attempt).Msg("Delayed feed reconnect failed")
			continue
		}
		return
	}
}

// Subscribe adds symbols; idempotent on the local set. When the
// session is authenticated the wire subscribe goes out immediately,
// otherwise the symbols wait for the next auth.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) error {
	newSyms := f.subs.Diff(symbols)
	if len(newSyms) == 0 {
		return nil
	}

	f.mu.Lock()
	conn := f.conn
	live := f.connected && f.authenticated
	f.mu.Unlock()

	if live && conn != nil {
		if err := f.send(ctx, conn, subscribeAction(newSyms)); err != nil {
			f.subs.MarkPending(newSyms)
			f.log.Error().Err(err).Strs("symbols", newSyms).Msg("Wire subscribe failed, retained as pending")
			return nil
		}
		f.subs.MarkActive(newSyms)
	} else {
		f.subs.MarkPending(newSyms)
	}
	f.log.Info().Strs("symbols", newSyms).Msg("Delayed feed subscriptions added")
	return nil
}

// Unsubscribe removes symbols from the local set and the wire
func (f *Feed) Unsubscribe(ctx context.Context, symbols []string) error {
	wasActive := f.subs.Remove(symbols)

	f.mu.Lock()
	conn := f.conn
	live := f.connected && f.authenticated
	f.mu.Unlock()

	if live && conn != nil && len(wasActive) > 0 {
		if err := f.send(ctx, conn, unsubscribeAction(wasActive)); err != nil {
			f.log.Error().Err(err).Strs("symbols", wasActive).Msg("Wire unsubscribe failed")
		}
	}
	f.log.Info().Strs("symbols", symbols).Msg("Delayed feed subscriptions removed")
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
	if f.connected && f.authenticated {
		return feeds.StatusConnected
	}
	return feeds.StatusDisconnected
}
