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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/httpapi"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runHTTP(ctx, cfg, log); err != nil {
		log.Error(ctx, "http server failed", "error", err)
		os.Exit(1)
	}
}

// offlineBackend is the durable store behind the offline queue.
type offlineBackend struct {
	kv      queue.KV
	healthy func(context.Context) bool
	close   func() error
}

func openOffline(ctx context.Context, cfg config.App) (*offlineBackend, error) {
	switch cfg.OfflineBackend {
	case "redis":
		r := store.NewRedis(cfg.RedisAddr)
		return &offlineBackend{kv: store.NewRedisKV(r.Client), healthy: r.Healthy, close: r.Close}, nil
	case "sqlite":
		db, err := store.OpenSQLite(ctx, cfg.OfflineSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite offline log: %w", err)
		}
		return &offlineBackend{
			kv:      store.NewSQLiteKV(db),
			healthy: func(ctx context.Context) bool { return db.PingContext(ctx) == nil },
			close:   db.Close,
		}, nil
	default:
		return &offlineBackend{
			kv:      store.NewMemoryKV(),
			healthy: func(context.Context) bool { return true },
			close:   func() error { return nil },
		}, nil
	}
}

// openDatabase connects to Postgres when configured. An unreachable database
// is logged and the service runs without a system of record.
func openDatabase(ctx context.Context, cfg config.App, log logging.Logger) *store.DB {
	if cfg.DatabaseURL == "" {
		log.Info(ctx, "no DATABASE_URL set, running without a system of record")
		return nil
	}
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Warn(ctx, "db not reachable", "error", err)
		_ = db.Close()
		return nil
	}
	if err := db.Migrate(ctx); err != nil {
		log.Warn(ctx, "db migration failed", "error", err)
		_ = db.Close()
		return nil
	}
	return db
}

func runHTTP(ctx context.Context, cfg config.App, log logging.Logger) error {
	offline, err := openOffline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = offline.close() }()

	db := openDatabase(ctx, cfg, log)
	defer func() { _ = db.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		transport attendance.Transport
		apiRepo   httpapi.Repository
		repo      *attendance.Repository
	)
	if db != nil {
		repo = attendance.NewRepository(db.Client)
		transport = repo
		apiRepo = repo
	}

	q := queue.NewOffline(offline.kv, cfg.OfflineLogKey, log.With("component", "offline_queue"))
	svc := attendance.NewService(q, transport, attendance.Options{
		Logger:                 log.With("component", "attendance"),
		Metrics:                m,
		Tick:                   cfg.RotationTick,
		DefaultExpiryMinutes:   cfg.TokenExpiryMinutes,
		DefaultDurationMinutes: cfg.SessionDurationMinutes,
	})
	defer svc.Close()

	if repo != nil {
		ids, err := repo.RosterIDs(ctx)
		switch {
		case err != nil:
			log.Warn(ctx, "roster not loaded", "error", err)
		case len(ids) > 0:
			svc.SetRoster(ids)
			log.Info(ctx, "roster loaded", "students", len(ids))
		}
	}
	if n, err := svc.PendingCount(ctx); err == nil && n > 0 {
		log.Info(ctx, "offline entries waiting from a previous run", "pending", n)
	}

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		svc.RunSync(ctx, cfg.SyncInterval)
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpapi.CORS())
	r.Use(httpapi.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware("/healthz", "/metrics"))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		reqCtx := c.Request.Context()
		offlineHealthy := offline.healthy(reqCtx)
		dbHealthy := db != nil && db.Client.PingContext(reqCtx) == nil
		status := http.StatusOK
		if !offlineHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":          http.StatusText(status),
			"offline_backend": cfg.OfflineBackend,
			"offline":         offlineHealthy,
			"db":              dbHealthy,
		})
	})

	httpapi.New(svc, httpapi.Options{
		Logger:        log.With("component", "http"),
		Repository:    apiRepo,
		StrictImports: cfg.ImportStrict,
		AutoRefresh:   cfg.TokenAutoRefresh,
	}).Register(r)

	// WriteTimeout stays zero: countdown streams are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", "addr", srv.Addr, "offline_backend", cfg.OfflineBackend, "db", db != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info(context.Background(), "shutting down server")

	// Ends countdown streams so Shutdown is not held open by them.
	svc.Close()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "server forced shutdown", "error", err)
	}
	<-syncDone

	log.Info(shutdownCtx, "server exited")
	return nil
}
