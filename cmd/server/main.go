// Package main is the entrypoint for the MailMind dashboard service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/api"
	"github.com/kiranshivaraju/mailmind/internal/api/handler"
	mw "github.com/kiranshivaraju/mailmind/internal/api/middleware"
	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/cache"
	"github.com/kiranshivaraju/mailmind/internal/config"
	"github.com/kiranshivaraju/mailmind/internal/dashboard"
	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/internal/store"
)

const shutdownTimeout = 30 * time.Second

// abandonedRunMessage closes poll sessions left open by a previous process.
const abandonedRunMessage = "Service restarted while the run was being tracked"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)
	closed, err := pgStore.CloseOpenTrackedRuns(ctx, abandonedRunMessage)
	if err != nil {
		return fmt.Errorf("close abandoned poll sessions: %w", err)
	}
	if closed > 0 {
		slog.Info("closed abandoned poll sessions", "count", closed)
	}

	if err := bootstrapAdminKey(ctx, pgStore, cfg.Server.BootstrapAdminKey); err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Backend client and per-user dashboards
	backend := mailmind.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, cfg.Backend.MaxRPS)
	registry := dashboard.NewRegistry(dashboardOptions(cfg, backend, redisCache, pgStore))
	defer registry.Close()

	// 6. Build router with dependencies
	deps := buildDependencies(cfg, pgStore, redisCache, registry)
	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // start analysis may wait StartTimeout
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func dashboardOptions(cfg *config.Config, backend mailmind.Client, c cache.Cache, rec dashboard.RunRecorder) dashboard.Options {
	retries := cfg.Dashboard.AccountsRetries
	if retries == 0 {
		retries = -1 // zero from the environment means no retries
	}
	return dashboard.Options{
		Backend:          backend,
		Cache:            c,
		Recorder:         rec,
		Logger:           slog.Default(),
		PollInterval:     cfg.Dashboard.PollInterval,
		AccountsTimeout:  cfg.Dashboard.AccountsTimeout,
		AccountsRetries:  retries,
		AccountsBackoff:  cfg.Dashboard.AccountsBackoff,
		StartTimeout:     cfg.Dashboard.StartTimeout,
		StatusTimeout:    cfg.Dashboard.StatusTimeout,
		InsightsCacheTTL: cfg.Dashboard.InsightsCacheTTL,
		IdleTTL:          cfg.Dashboard.IdleTTL,
	}
}

func buildDependencies(cfg *config.Config, s store.Store, c cache.Cache, screens handler.Screens) api.Dependencies {
	d := handler.NewDashboard(screens, s)
	sessions := handler.NewSessions(c, cfg.Server.SessionTTL)

	return api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, cfg.Server.RateLimitPerMin),

		HealthHandler: healthHandler(s, c),

		Login:         sessions.Login,
		CurrentUser:   sessions.Current,
		Logout:        sessions.Logout,
		OAuthCallback: handler.OAuthCallback(screens),

		Dashboard:      d.View,
		ReloadAccounts: d.ReloadAccounts,
		SelectAccount:  d.SelectAccount,
		DeleteAccount:  d.DeleteAccount,
		AddYahoo:       d.AddYahooAccount,
		TestConnection: d.TestConnection,
		AuthorizeGmail: d.AuthorizeGmail,
		StartAnalysis:  d.StartAnalysis,
		StopAnalysis:   d.StopAnalysis,
		Progress:       d.Progress,
		ListRuns:       d.Runs,
		MoreRuns:       d.MoreRuns,
		RetryRun:       d.RetryRun,
		Coverage:       d.Coverage,
		SelectGap:      d.SelectGap,
		PollSessions:   d.Sessions,

		CreateKeyHandler: handler.NewCreateKeyHandler(s),
		ListKeysHandler:  handler.NewListKeysHandler(s),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(s),
	}
}

// bootstrapAdminKey creates an admin key named name when no key exists yet.
// The raw key is logged once; it cannot be recovered afterwards.
func bootstrapAdminKey(ctx context.Context, ks handler.KeyStore, name string) error {
	if name == "" {
		return nil
	}
	keys, err := ks.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return nil
	}

	raw, key, err := handler.GenerateKey(name, "", []string{handler.ScopeRead, handler.ScopeWrite, handler.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := ks.CreateAPIKey(ctx, key); err != nil {
		return err
	}
	slog.Warn("created bootstrap admin key; store it now, it is not shown again",
		"name", name, "key_id", key.ID, "key", raw)
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
