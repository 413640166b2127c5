// Package server exposes the control surface: health, subscription
// listing and watchlist mutations. It must come up before the slower
// components initialise so orchestrator liveness checks pass during
// startup.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wavepilot/marketd/internal/domain"
	"github.com/wavepilot/marketd/internal/feeds"
)

// schedulerControl is the slice of the scheduler the server consumes
type schedulerControl interface {
	Status() string
	Watchlist() *domain.Watchlist
	BackfillHistory(ctx context.Context, symbols []string)
}

// Config holds server configuration. Nil feeds or scheduler are
// reported as disabled rather than failing.
type Config struct {
	Port        int
	FastFeed    feeds.Feed
	DelayedFeed feeds.Feed
	Scheduler   schedulerControl
	Log         zerolog.Logger
}

// Server is the control HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	fast    feeds.Feed
	delayed feeds.Feed
	sched   schedulerControl
	started time.Time

	shuttingDown atomic.Bool
}

// New builds the server and its routes
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		fast:    cfg.FastFeed,
		delayed: cfg.DelayedFeed,
		sched:   cfg.Scheduler,
		started: time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/", s.handleHealth)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/subscriptions", s.handleSubscriptions)
	s.router.Post("/subscribe", s.handleSubscribe)
	s.router.Post("/unsubscribe", s.handleUnsubscribe)
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

// Handler returns the router; used in tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening in the background
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("Control server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Control server failed")
		}
	}()
}

// BeginShutdown rejects further mutations while the listener stays up,
// so liveness checks keep passing during the drain.
func (s *Server) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// Shutdown stops accepting mutations, then drains the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	return s.server.Shutdown(ctx)
}

type serviceStatus struct {
	Status        string   `json:"status"`
	Subscriptions []string `json:"subscriptions,omitempty"`
	Watchlist     []string `json:"watchlist,omitempty"`
}

func (s *Server) feedStatus(f feeds.Feed) serviceStatus {
	if f == nil {
		return serviceStatus{Status: "disabled"}
	}
	return serviceStatus{Status: f.Status(), Subscriptions: f.Subscriptions()}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memory := map[string]interface{}{
		"allocMB":    ms.Alloc / 1024 / 1024,
		"sysMB":      ms.Sys / 1024 / 1024,
		"numGC":      ms.NumGC,
		"goroutines": runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memory["systemUsedPercent"] = vm.UsedPercent
	}

	scheduler := serviceStatus{Status: "disabled"}
	if s.sched != nil {
		scheduler = serviceStatus{Status: s.sched.Status(), Watchlist: s.sched.Watchlist().List()}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"memory":    memory,
		"services": map[string]interface{}{
			"fastFeed":    s.feedStatus(s.fast),
			"delayedFeed": s.feedStatus(s.delayed),
			"scheduler":   scheduler,
		},
	})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": s.currentSubscriptions(),
	})
}

// currentSubscriptions prefers the fast feed's set; falls back to the
// delayed feed, then to the watchlist.
func (s *Server) currentSubscriptions() []string {
	switch {
	case s.fast != nil:
		return s.fast.Subscriptions()
	case s.delayed != nil:
		return s.delayed.Subscriptions()
	case s.sched != nil:
		return s.sched.Watchlist().List()
	default:
		return []string{}
	}
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) decodeSymbols(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	if s.shuttingDown.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return nil, false
	}
	var req symbolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	symbols := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		if t := domain.NormalizeTicker(sym); t != "" {
			symbols = append(symbols, t)
		}
	}
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, "symbols must be a non-empty array")
		return nil, false
	}
	return symbols, true
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	symbols, ok := s.decodeSymbols(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if s.fast != nil {
		if err := s.fast.Subscribe(ctx, symbols); err != nil {
			s.log.Error().Err(err).Strs("symbols", symbols).Msg("Fast feed subscribe failed")
		}
	}
	if s.delayed != nil {
		if err := s.delayed.Subscribe(ctx, symbols); err != nil {
			s.log.Error().Err(err).Strs("symbols", symbols).Msg("Delayed feed subscribe failed")
		}
	}

	var added []string
	if s.sched != nil {
		added = s.sched.Watchlist().Add(symbols)
		if len(added) > 0 {
			// History fill runs in the background; the response only
			// confirms the subscription.
			go s.sched.BackfillHistory(context.Background(), added)
		}
	}

	s.log.Info().Strs("symbols", symbols).Strs("new", added).Msg("Subscribed")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"subscriptions": s.currentSubscriptions(),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	symbols, ok := s.decodeSymbols(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if s.fast != nil {
		if err := s.fast.Unsubscribe(ctx, symbols); err != nil {
			s.log.Error().Err(err).Strs("symbols", symbols).Msg("Fast feed unsubscribe failed")
		}
	}
	if s.delayed != nil {
		if err := s.delayed.Unsubscribe(ctx, symbols); err != nil {
			s.log.Error().Err(err).Strs("symbols", symbols).Msg("Delayed feed unsubscribe failed")
		}
	}
	if s.sched != nil {
		s.sched.Watchlist().Remove(symbols)
	}

	s.log.Info().Strs("symbols", symbols).Msg("Unsubscribed")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"subscriptions": s.currentSubscriptions(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
