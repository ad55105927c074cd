// Package server is the composition root: it opens the stores, wires the
// services and handlers, defines the routes and runs everything under one
// supervisor tree.
//
// SUPERVISION:
// Three long-running services share the tree:
//   - http-server: the API
//   - daily-sync:  the once-a-day fetch of yesterday
//   - job-runner:  background batches queued by refresh-all and fetch-now
//
// A service that returns an error or panics is restarted with backoff; the
// others keep running.
//
// DEPENDENCY FLOW:
//
//	config → sqlite.DB, redis, WakaTime client (+ breaker), OAuth provider
//	       → CredentialManager → Syncer → Auth/Admin/Leaderboard services
//	       → handlers → routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/sakif/coding-leaderboard/internal/auth"
	"github.com/sakif/coding-leaderboard/internal/config"
	"github.com/sakif/coding-leaderboard/internal/handler"
	"github.com/sakif/coding-leaderboard/internal/middleware"
	sqliteRepo "github.com/sakif/coding-leaderboard/internal/repository/sqlite"
	"github.com/sakif/coding-leaderboard/internal/scheduler"
	"github.com/sakif/coding-leaderboard/internal/service"
	"github.com/sakif/coding-leaderboard/internal/session"
	"github.com/sakif/coding-leaderboard/internal/wakatime"
)

// Server owns the stores and the long-running services.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db  *sqliteRepo.DB
	rdb *redis.Client

	router *chi.Mux
	runner *scheduler.Runner
	daily  *scheduler.Daily
}

// New opens SQLite and Redis and wires every component. The caller must
// Close the server, or Run it, which closes on return.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === STORES ===
	var opts []sqliteRepo.Option
	if cfg.CredentialKey != "" {
		sealer, err := auth.NewCredentialSealer(cfg.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("server: credential sealer: %w", err)
		}
		opts = append(opts, sqliteRepo.WithCredentialSealer(sealer))
	} else {
		logger.Warn("CREDENTIAL_KEY not set, WakaTime credentials are stored unencrypted")
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("server: creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	rdb, err := session.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: chi.NewRouter(),
		runner: scheduler.NewRunner(scheduler.DefaultQueueSize, logger),
	}
	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// setupRoutes wires the services and mounts every route.
//
// ROUTES:
//
//	GET    /api/auth/login                    → WakaTime authorize redirect
//	GET    /api/auth/callback                 → finish login, redirect to frontend
//	POST   /api/auth/logout                   → drop the session (optional auth)
//	DELETE /api/auth/delete-account           → remove own account
//	GET    /api/auth/me                       → own public profile
//	GET    /api/dashboard                     → combined view (optional auth)
//	GET    /api/leaderboard/today|week        → ranked lists
//	GET    /api/weekly-data                   → per-user 7-day series
//	POST   /api/refresh-all                   → queue a 7-day sync (rate limited)
//	       /api/admin/...                     → admin only
//	GET    /healthz, /metrics
func (s *Server) setupRoutes() error {
	cfg := s.cfg

	states, err := auth.NewStateSigner(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("server: state signer: %w", err)
	}
	provider := auth.NewWakaTimeProvider(cfg.WakaTimeClientID, cfg.WakaTimeClientSecret, cfg.WakaTimeRedirectURI, cfg.WakaTimeOAuthURL)
	sessions := session.NewManager(s.rdb, cfg.SessionTTL)

	api := wakatime.NewBreakerClient(
		wakatime.NewClient(cfg.WakaTimeAPIURL, &http.Client{Timeout: cfg.WakaTimeTimeout}),
		wakatime.BreakerSettings{
			MinRequests:  cfg.BreakerMinRequests,
			FailureRatio: cfg.BreakerFailureRatio,
			OpenTimeout:  cfg.BreakerOpenTimeout,
		},
		s.logger,
	)

	// === SERVICES ===
	creds := service.NewCredentialManager(provider, s.db, s.logger)
	syncer := service.NewSyncer(s.db, s.db, s.db, api, creds, cfg.SyncDelay, s.logger)
	accounts := service.NewAuthService(provider, api, s.db, sessions, syncer, cfg.BootstrapAdmin, s.logger)
	admin := service.NewAdminService(s.db, s.db, s.db, s.logger)
	rankings := service.NewLeaderboardService(s.db)

	s.daily = scheduler.NewDaily(syncer, cfg.SyncHourUTC, s.logger)

	// === HANDLERS ===
	authHandler := handler.NewAuthHandler(provider, states, accounts, cfg.FrontendURL, cfg.SessionTTL, s.logger)
	boardHandler := handler.NewLeaderboardHandler(rankings, syncer, s.runner, s.logger)
	adminHandler := handler.NewAdminHandler(admin, syncer, s.runner, s.logger)
	healthHandler := handler.NewHealthHandler(map[string]handler.CheckFunc{
		"sqlite": s.db.Ping,
		"redis":  func(ctx context.Context) error { return s.rdb.Ping(ctx).Err() },
	}, s.logger)
	guard := auth.NewMiddleware(sessions, s.db, s.logger)

	// === GLOBAL MIDDLEWARE ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS())

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get("/healthz", healthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.HandleLogin)
			r.Get("/callback", authHandler.HandleCallback)
			r.With(guard.OptionalSession).Post("/logout", authHandler.HandleLogout)
			r.With(guard.RequireSession).Delete("/delete-account", authHandler.HandleDeleteAccount)
			r.With(guard.RequireSession).Get("/me", authHandler.HandleMe)
		})

		r.With(guard.OptionalSession).Get("/dashboard", boardHandler.HandleDashboard)

		r.Group(func(r chi.Router) {
			r.Use(guard.RequireSession)
			r.Get("/leaderboard/today", boardHandler.HandleToday)
			r.Get("/leaderboard/week", boardHandler.HandleWeek)
			r.Get("/weekly-data", boardHandler.HandleWeeklyData)
			r.With(middleware.RateLimitByIP(cfg.RefreshLimit, time.Minute)).
				Post("/refresh-all", boardHandler.HandleRefreshAll)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.RequireSession)
			r.Use(guard.RequireAdmin)

			r.Get("/users", adminHandler.HandleListUsers)
			r.Post("/users", adminHandler.HandleCreateUser)
			r.Delete("/users/{id}", adminHandler.HandleDeleteUser)
			r.Post("/users/{id}/ban", adminHandler.HandleBan)
			r.Post("/users/{id}/unban", adminHandler.HandleUnban)
			r.Post("/users/{id}/promote", adminHandler.HandlePromote)
			r.Post("/users/{id}/demote", adminHandler.HandleDemote)
			r.Get("/users/{id}/fetch-log", adminHandler.HandleFetchLog)
			r.Get("/users/{id}/stats", adminHandler.HandleUserStats)
			r.Post("/users/{id}/refresh", adminHandler.HandleRefreshUser)
			r.Get("/fetch-now", adminHandler.HandleFetchNow)
			r.Post("/fetch-now", adminHandler.HandleFetchNow)
		})
	})

	return nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts the tree down and closes the
// stores. A cancelled ctx is a clean exit and returns nil.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	hook := &sutureslog.Handler{Logger: s.logger}
	root := suture.New("coding-leaderboard", suture.Spec{
		EventHook: hook.MustHook(),
		Timeout:   s.cfg.ShutdownTimeout,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	root.Add(newHTTPService(srv, s.cfg.ShutdownTimeout))
	root.Add(s.daily)
	root.Add(s.runner)

	s.logger.Info("server starting",
		slog.Int("port", s.cfg.Port),
		slog.String("database", s.cfg.DBPath),
		slog.Int("sync_hour_utc", s.cfg.SyncHourUTC),
	)

	err := root.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Close releases Redis and SQLite.
func (s *Server) Close() error {
	return errors.Join(s.rdb.Close(), s.db.Close())
}
