// Command worker runs the market-data ingestion worker: streaming
// fast/delayed feeds, the batch job scheduler and the control HTTP
// surface. Missing stores or credentials degrade the worker instead of
// stopping it; only broken configuration is fatal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavepilot/marketd/internal/clients/massive"
	"github.com/wavepilot/marketd/internal/config"
	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/feeds"
	"github.com/wavepilot/marketd/internal/feeds/iexfeed"
	"github.com/wavepilot/marketd/internal/feeds/sipfeed"
	"github.com/wavepilot/marketd/internal/markethours"
	"github.com/wavepilot/marketd/internal/news"
	"github.com/wavepilot/marketd/internal/scheduler"
	"github.com/wavepilot/marketd/internal/secrets"
	"github.com/wavepilot/marketd/internal/server"
	"github.com/wavepilot/marketd/internal/storage"
	"github.com/wavepilot/marketd/pkg/logger"
)

const (
	secretsTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logger.New(logger.Config{Level: "info"})
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel})
	logger.SetGlobalLogger(log)
	log.Info().
		Str("region", cfg.AWSRegion).
		Bool("realtime", cfg.EnableRealtime).
		Bool("scheduler", cfg.EnableScheduler).
		Msg("Starting market-data worker")

	ctx := context.Background()

	secretStore, err := secrets.New(ctx, cfg.AWSRegion, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise secrets store")
	}

	keys := fetchAPIKeys(ctx, secretStore, cfg, log)

	// The writer connects lazily on first write; constructing it here
	// costs nothing, so the control server can come up first.
	writer := storageWriter(cfg, secretStore, log)

	massiveClient := massive.NewClient(cfg.MassiveBaseURL, keys.MassiveKey, log)
	hours := markethours.New(massiveClient, log)
	watchlist := domain.NewWatchlist(cfg.DefaultWatchlist)

	newsStore, err := news.New(ctx, news.Config{
		Bucket: cfg.DataBucket,
		Region: cfg.AWSRegion,
		Writer: writer,
		Log:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise news store")
	}

	sched := scheduler.New(scheduler.Config{
		Market:           massiveClient,
		Writer:           writer,
		News:             newsStore,
		Hours:            hours,
		Watchlist:        watchlist,
		FetchNewsContent: cfg.FetchNewsContent,
		Log:              log,
	})

	var fastFeed, delayedFeed feeds.Feed
	if cfg.EnableRealtime {
		fastFeed = iexfeed.New(iexfeed.Config{
			Key:    keys.AlpacaKey,
			Secret: keys.AlpacaSecret,
			Hours:  hours,
			Writer: writer,
			Log:    log,
		})
		delayedFeed = sipfeed.New(sipfeed.Config{
			URL:    cfg.MassiveDelayedWSURL,
			APIKey: keys.MassiveKey,
			Hours:  hours,
			Writer: writer,
			Log:    log,
		})
	}

	srv := server.New(server.Config{
		Port:        cfg.HealthCheckPort,
		FastFeed:    fastFeed,
		DelayedFeed: delayedFeed,
		Scheduler:   sched,
		Log:         log,
	})

	// Liveness checks must pass before any slower component starts.
	srv.Start()

	if cfg.EnableRealtime {
		if err := fastFeed.Subscribe(ctx, watchlist.List()); err != nil {
			log.Error().Err(err).Msg("Initial fast feed subscribe failed")
		}
		if err := delayedFeed.Subscribe(ctx, watchlist.List()); err != nil {
			log.Error().Err(err).Msg("Initial delayed feed subscribe failed")
		}
		fastFeed.Connect()
		delayedFeed.Connect()
	} else {
		log.Info().Msg("Realtime feeds disabled")
	}

	if cfg.EnableScheduler {
		if err := sched.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		log.Info().Msg("Scheduler disabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Mutations are rejected from here on; the listener stays up so
	// liveness checks keep passing while the rest drains.
	srv.BeginShutdown()

	if fastFeed != nil {
		fastFeed.Close()
	}
	if delayedFeed != nil {
		delayedFeed.Close()
	}
	sched.Stop()

	writer.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control server shutdown failed")
	}

	log.Info().Msg("Worker stopped")
}

// fetchAPIKeys resolves upstream credentials. Failure degrades: the
// worker runs with empty keys and the feeds report their own auth
// errors, keeping the control surface and health endpoint available.
func fetchAPIKeys(ctx context.Context, store *secrets.Store, cfg *config.Config, log zerolog.Logger) *secrets.APIKeys {
	fetchCtx, cancel := context.WithTimeout(ctx, secretsTimeout)
	defer cancel()

	keys, err := store.GetAPIKeys(fetchCtx, cfg.APIKeysSecretARN)
	if err != nil {
		log.Error().Err(err).Str("arn", cfg.APIKeysSecretARN).Msg("API keys unavailable, running degraded")
		return &secrets.APIKeys{}
	}
	return keys
}

// storageWriter builds the time-series writer. An unset endpoint is a
// degraded mode: writes are rejected with ErrNotConfigured and the
// rest of the worker keeps running.
func storageWriter(cfg *config.Config, store *secrets.Store, log zerolog.Logger) *storage.InfluxWriter {
	url := cfg.InfluxURL()
	if url == "" {
		log.Warn().Msg("Time-series store not configured, writes disabled")
	}
	return storage.NewInfluxWriter(storage.Config{
		URL:       url,
		Database:  cfg.InfluxDatabase,
		SecretARN: cfg.InfluxSecretARN,
		Secrets:   store,
		Log:       log,
	})
}
