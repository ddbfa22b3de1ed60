package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapenv/snapenv/internal/app/migrate"
	"github.com/snapenv/snapenv/internal/cluster"
	"github.com/snapenv/snapenv/internal/dispatcher"
	"github.com/snapenv/snapenv/internal/feed"
	httpx "github.com/snapenv/snapenv/internal/http"
	"github.com/snapenv/snapenv/internal/janitor"
	"github.com/snapenv/snapenv/internal/reconciler"
	"github.com/snapenv/snapenv/internal/repository/postgres"
	"github.com/snapenv/snapenv/internal/ws"
	"github.com/snapenv/snapenv/pkg/config"
	"github.com/snapenv/snapenv/pkg/logger"
)

func main() {
	cfg := config.LoadOrchestratorConfig()
	log := logger.New("orchestrator", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Shutdown()
	publisher := feed.NewPublisher(repo, hub, log)

	driver := cluster.NewArgoDriver(cluster.ArgoConfig{
		Server:       cfg.ArgoServer,
		Token:        cfg.ArgoToken,
		Insecure:     cfg.ArgoInsecure,
		Project:      cfg.ArgoProject,
		ChartRepoURL: cfg.ChartRepoURL,
		ChartPath:    cfg.ChartPath,
		PollInterval: cfg.DriverPollInterval,
	}, log)

	queue := reconciler.NewQueue()
	rec := reconciler.New(reconciler.Config{
		Workers:        cfg.ReconcileWorkers,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		DriveTimeout:   cfg.DriverTimeout,
		ResyncInterval: cfg.ResyncInterval,
		PreviewDomain:  cfg.PreviewDomain,
		RequireChecks:  cfg.RequireChecks,
	}, queue, repo, repo, driver, publisher, log)

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		rec.Run(ctx)
	}()

	if j := janitor.New(repo, log, cfg.JanitorInterval, cfg.JanitorRetention); j != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			j.Run(ctx)
		}()
	}

	disp := dispatcher.New(repo, queue, publisher, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, disp, repo, repo, repo, hub, limiter, cfg.WebhookSecret, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("orchestrator starting", "addr", cfg.Addr, "preview_domain", cfg.PreviewDomain)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		background.Wait()
		log.Info("orchestrator stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
