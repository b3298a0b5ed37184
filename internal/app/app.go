// Package app wires configuration, infrastructure, and every background
// loop into a running control-plane process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/irazvan2745/glare-control/internal/aggregate"
	"github.com/irazvan2745/glare-control/internal/config"
	"github.com/irazvan2745/glare-control/internal/dispatch"
	"github.com/irazvan2745/glare-control/internal/httpserver"
	"github.com/irazvan2745/glare-control/internal/lease"
	"github.com/irazvan2745/glare-control/internal/logging"
	"github.com/irazvan2745/glare-control/internal/platform"
	"github.com/irazvan2745/glare-control/internal/scheduler"
	"github.com/irazvan2745/glare-control/internal/store"
	"github.com/irazvan2745/glare-control/internal/sweep"
	"github.com/irazvan2745/glare-control/internal/telemetry"
	"github.com/irazvan2745/glare-control/internal/workerclient"
	"github.com/prometheus/client_golang/prometheus"
)

// Run is the process entry point: it connects infrastructure, starts the
// scheduler and reconciliation sweeper loops, and serves the HTTP API until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting glare-control", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	for _, c := range telemetry.All() {
		if err := metricsReg.Register(c); err != nil {
			return fmt.Errorf("registering metrics collector: %w", err)
		}
	}

	workers := store.NewWorkerStore(db)
	repos := store.NewRepositoryStore(db)
	policies := store.NewPolicyStore(db)
	runs := store.NewRunStore(db)
	events := store.NewEventStore(db)
	metrics := store.NewMetricStore(db)
	storageUsage := store.NewStorageUsageStore(db)
	anomalies := store.NewAnomalyStore(db)

	leaseMgr := lease.New(db, lease.NewOwnerIdentity())
	client := workerclient.New()

	mode := dispatch.ModePull
	if cfg.SchedulerPushMode {
		mode = dispatch.ModePush
	}

	aggregator := aggregate.New(policies, runs)

	dispatcher := &dispatch.Dispatcher{
		Policies: policies, Repos: repos, Runs: runs, Events: events,
		Metrics: metrics, Storage: storageUsage, Anomalies: anomalies,
		Workers: workers, Client: client, Aggregator: aggregator, Mode: mode, Logger: logger,
	}

	sched := &scheduler.Scheduler{Policies: policies, Dispatcher: dispatcher, Lease: leaseMgr, Logger: logger}
	go sched.Run(ctx, cfg.SchedulerInterval)

	sweeper := &sweep.Sweeper{
		Workers: workers, Repos: repos, Policies: policies, Runs: runs, Events: events,
		Client: client, Dispatcher: dispatcher, Redis: rdb, Logger: logger,
	}
	go sweeper.Run(ctx, cfg.SweepInterval)

	srv := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, db, rdb, metricsReg, workers)

	workerHandler := &httpserver.WorkerHandler{
		Workers: workers, Policies: policies, Runs: runs, Events: events, Repos: repos,
		Dispatcher: dispatcher, Aggregator: aggregator, Logger: logger,
	}
	workerHandler.Routes(srv.WorkerAPI)

	adminHandler := &httpserver.AdminHandler{Policies: policies, Dispatcher: dispatcher, Lease: leaseMgr, Logger: logger}
	srv.Router.Route("/api/rustic", adminHandler.Routes)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
