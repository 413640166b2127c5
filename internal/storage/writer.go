// Package storage normalises domain records into time-series points
// and writes them to InfluxDB. Correction across the three producers
// relies entirely on the store's overwrite-by-identity semantics, so
// the writer stays dumb: batch, retry, surface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/secrets"
)

const (
	batchSize    = 1000
	maxAttempts  = 3
	retryBackoff = time.Second
)

var (
	// ErrNotConfigured means the endpoint is absent; the producer
	// depending on this writer runs degraded.
	ErrNotConfigured = errors.New("time-series store not configured")
	// ErrAuthFailed is fatal: the caller must not retry
	ErrAuthFailed = errors.New("time-series store authentication failed")
)

// Writer is the surface producers write through
type Writer interface {
	WriteQuotes(ctx context.Context, quotes []domain.QuoteRecord) error
	WriteDailyData(ctx context.Context, daily []domain.DailyRecord) error
	WriteNews(ctx context.Context, news []domain.NewsRecord) error
	WriteFundamentals(ctx context.Context, funds []domain.FundamentalsRecord) error
	Close()
}

// pointWriter is the slice of the Influx API the writer consumes
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Config holds writer configuration
type Config struct {
	URL       string // full endpoint URL; "" means not configured
	Database  string
	SecretARN string // token secret; "" means connect tokenless
	Secrets   *secrets.Store
	Log       zerolog.Logger
}

// InfluxWriter is the production Writer. Initialisation is lazy: the
// first write fetches the token and connects; Close reverts to
// uninitialised.
type InfluxWriter struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	initialized bool
	api         pointWriter
	closeFn     func()

	// connect is swapped out in tests
	connect func(ctx context.Context) (pointWriter, func(), error)

	// sleep between attempts; shortened in tests
	backoff time.Duration
}

// NewInfluxWriter creates a writer; no connection is made until the
// first write.
func NewInfluxWriter(cfg Config) *InfluxWriter {
	w := &InfluxWriter{
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "tswriter").Logger(),
		backoff: retryBackoff,
	}
	w.connect = w.connectInflux
	return w
}

func (w *InfluxWriter) connectInflux(ctx context.Context) (pointWriter, func(), error) {
	token := ""
	if w.cfg.SecretARN != "" {
		var err error
		token, err = w.cfg.Secrets.GetInfluxToken(ctx, w.cfg.SecretARN)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrAuthFailed, err)
		}
	}

	client := influxdb2.NewClient(w.cfg.URL, token)
	api := client.WriteAPIBlocking("", w.cfg.Database)
	return api, client.Close, nil
}

// initialize connects on first use. Callers hold w.mu.
func (w *InfluxWriter) initialize(ctx context.Context) error {
	if w.initialized {
		return nil
	}
	if w.cfg.URL == "" {
		return ErrNotConfigured
	}

	api, closeFn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	w.api = api
	w.closeFn = closeFn
	w.initialized = true
	w.log.Info().Str("url", w.cfg.URL).Str("database", w.cfg.Database).Msg("Time-series store connected")
	return nil
}

// Close releases the connection; the next write re-initialises
func (w *InfluxWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return
	}
	if w.closeFn != nil {
		w.closeFn()
	}
	w.api = nil
	w.closeFn = nil
	w.initialized = false
	w.log.Info().Msg("Time-series store connection closed")
}

// writeBatch writes one slice of points as a single request, retrying
// transient failures up to maxAttempts with linear backoff. Auth
// failures close the client and surface immediately.
func (w *InfluxWriter) writeBatch(ctx context.Context, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.initialize(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := w.api.WritePoint(ctx, points...)
		if err == nil {
			return nil
		}
		lastErr = err

		if isAuthError(err) {
			w.log.Error().Err(err).Msg("Time-series store rejected credentials")
			if w.closeFn != nil {
				w.closeFn()
			}
			w.api = nil
			w.closeFn = nil
			w.initialized = false
			return fmt.Errorf("%w: %s", ErrAuthFailed, err)
		}

		if attempt < maxAttempts {
			delay := w.backoff * time.Duration(attempt)
			w.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Write failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("write failed after %d attempts: %w", maxAttempts, lastErr)
}

func isAuthError(err error) bool {
	var herr *influxhttp.Error
	if errors.As(err, &herr) {
		return herr.StatusCode == http.StatusUnauthorized || herr.StatusCode == http.StatusForbidden
	}
	return false
}

// writeAll chunks points into batches of batchSize
func (w *InfluxWriter) writeAll(ctx context.Context, points []*write.Point) error {
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := w.writeBatch(ctx, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// WriteQuotes writes minute bars. Bars missing time, open or close are
// dropped with a warning rather than written.
func (w *InfluxWriter) WriteQuotes(ctx context.Context, quotes []domain.QuoteRecord) error {
	points := make([]*write.Point, 0, len(quotes))
	for _, q := range quotes {
		if !q.Valid() {
			w.log.Warn().Str("ticker", q.Ticker).Time("time", q.Time).Msg("Dropping invalid quote record")
			continue
		}
		points = append(points, quotePoint(q))
	}
	return w.writeAll(ctx, points)
}

// WriteDailyData writes daily bars
func (w *InfluxWriter) WriteDailyData(ctx context.Context, daily []domain.DailyRecord) error {
	points := make([]*write.Point, 0, len(daily))
	for _, d := range daily {
		if !d.Valid() {
			w.log.Warn().Str("ticker", d.Ticker).Time("date", d.Date).Msg("Dropping invalid daily record")
			continue
		}
		points = append(points, dailyPoint(d))
	}
	return w.writeAll(ctx, points)
}

// WriteNews writes news metadata records one point per record; the
// per-record path is authoritative because sanitisation can drop a
// record without aborting its siblings.
func (w *InfluxWriter) WriteNews(ctx context.Context, news []domain.NewsRecord) error {
	var firstErr error
	for _, n := range news {
		if !n.Valid() {
			w.log.Warn().Str("id", n.ID).Str("ticker", n.Ticker).Msg("Dropping invalid news record")
			continue
		}
		if err := w.writeBatch(ctx, []*write.Point{newsPoint(n)}); err != nil {
			if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNotConfigured) {
				return err
			}
			w.log.Error().Err(err).Str("id", n.ID).Msg("News record write failed, continuing with batch")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WriteFundamentals writes fundamentals records. Failure is handled at
// batch granularity; there is no per-record rollback.
func (w *InfluxWriter) WriteFundamentals(ctx context.Context, funds []domain.FundamentalsRecord) error {
	points := make([]*write.Point, 0, len(funds))
	for _, f := range funds {
		if !f.Valid() {
			w.log.Warn().Str("ticker", f.Ticker).Msg("Dropping invalid fundamentals record")
			continue
		}
		points = append(points, fundamentalsPoint(f))
	}
	return w.writeAll(ctx, points)
}
