/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/jukebox/internal/api"
	"github.com/friendsincode/jukebox/internal/bandit"
	"github.com/friendsincode/jukebox/internal/cache"
	"github.com/friendsincode/jukebox/internal/clock"
	"github.com/friendsincode/jukebox/internal/config"
	"github.com/friendsincode/jukebox/internal/db"
	"github.com/friendsincode/jukebox/internal/eventbus"
	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/feedback"
	"github.com/friendsincode/jukebox/internal/jukebox"
	"github.com/friendsincode/jukebox/internal/logbuffer"
	"github.com/friendsincode/jukebox/internal/normalize"
	"github.com/friendsincode/jukebox/internal/queue"
	"github.com/friendsincode/jukebox/internal/recommend"
	"github.com/friendsincode/jukebox/internal/retrieval"
	"github.com/friendsincode/jukebox/internal/store"
	"github.com/friendsincode/jukebox/internal/telemetry"
	"github.com/friendsincode/jukebox/internal/version"
	"github.com/friendsincode/jukebox/internal/youtube"
)

const connectionMetricsInterval = 15 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	policy    *bandit.Policy
	index     *retrieval.Index
	jukebox   *jukebox.Service
	api       *api.API
	updates   *version.Checker
	natsLink  *eventbus.NATSBridge

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every dependency and returns a server ready to listen. logBuf
// may be nil, in which case /api/logs reports unavailable.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("jukebox-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := chi.NewRouter()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' data: https:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// OpenPolicyStore opens the configured snapshot store. database is only used
// by the db backend. The returned closer is never nil.
func OpenPolicyStore(cfg *config.Config, database *gorm.DB) (bandit.SnapshotStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.PolicyStore {
	case config.PolicyStoreBadger:
		st, err := bandit.OpenBadgerStore(cfg.PolicyDir())
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case config.PolicyStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return bandit.NewRedisStore(client), client.Close, nil
	case config.PolicyStoreDatabase:
		if database == nil {
			return nil, noop, fmt.Errorf("policy store %q needs a database", cfg.PolicyStore)
		}
		return bandit.NewGormStore(database), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported policy store %q", cfg.PolicyStore)
	}
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st := store.New(database, s.logger)

	snapshots, closeSnapshots, err := OpenPolicyStore(s.cfg, database)
	if err != nil {
		return fmt.Errorf("open policy store: %w", err)
	}
	s.DeferClose(closeSnapshots)
	s.policy = bandit.New(bandit.Config{}, snapshots, clock.System{}, s.logger)
	s.logger.Info().Str("store", string(s.cfg.PolicyStore)).Msg("selection policy ready")

	s.index = retrieval.New(retrieval.DefaultDimensions, s.cfg.RetrievalEnabled, s.logger)
	rebuildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := s.index.Rebuild(rebuildCtx, st); err != nil {
		s.logger.Warn().Err(err).Msg("retrieval index rebuild failed, starting empty")
	}
	cancel()

	composer := recommend.New(recommend.Config{
		Epsilon:        s.cfg.Epsilon,
		CandidateLimit: s.cfg.CandidateLimit,
	}, s.index, st, s.policy, s.logger)
	machine := queue.New(composer, st, s.bus, s.logger)
	router := feedback.NewRouter(st, s.policy, s.cfg.FeedbackEpsilon, s.bus, s.logger)

	normalizer := normalize.New(normalize.Config{
		Provider: s.cfg.LLMProvider,
		Model:    s.cfg.LLMModel,
		APIKey:   s.cfg.LLMAPIKey(),
		Timeout:  s.cfg.UpstreamTimeout,
	}, s.logger)
	if !normalizer.Configured() {
		s.logger.Warn().Str("provider", s.cfg.LLMProvider).Msg("no LLM key configured, queries are used as typed")
	}

	resolver := youtube.New(youtube.Config{
		APIKey:            s.cfg.YouTubeAPIKey,
		Timeout:           s.cfg.UpstreamTimeout,
		RequestsPerSecond: s.cfg.YouTubeRequestsPerSec,
	}, s.logger)
	if s.cfg.YouTubeAPIKey == "" {
		s.logger.Warn().Msg("no YouTube API key configured, suggestions will not resolve")
	}

	var resolveCache jukebox.ResolveCache
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c := cache.New(cacheCfg, s.logger)
		s.DeferClose(c.Close)
		resolveCache = c
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		link, err := eventbus.NewNATSBridge(natsCfg, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS unavailable, events stay in-process")
		} else {
			s.natsLink = link
			s.DeferClose(link.Close)
		}
	}

	s.jukebox = jukebox.New(jukebox.Deps{
		Store:       st,
		Queue:       machine,
		Composer:    composer,
		Feedback:    router,
		Normalizer:  normalizer,
		Resolver:    resolver,
		Cache:       resolveCache,
		Index:       s.index,
		Bus:         s.bus,
		DefaultTags: s.cfg.DefaultTags,
	}, s.logger)

	opts := api.Options{
		Version:           version.Version,
		SuggestRatePerMin: s.cfg.SuggestRatePerMin,
		Logs:              s.logBuffer,
	}
	if s.cfg.UpdateCheckEnabled {
		s.updates = version.NewChecker(s.logger)
		opts.Updates = s.updates.Info
	}
	s.api = api.New(s.jukebox, s.bus, opts, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus listener, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Jukebox returns the wired service.
func (s *Server) Jukebox() *jukebox.Service {
	return s.jukebox
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(connectionMetricsInterval)
		defer ticker.Stop()
		db.UpdateConnectionMetrics(s.db)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.updates != nil {
		s.updates.Start(ctx)
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	if s.updates != nil {
		s.updates.Stop()
	}
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}
