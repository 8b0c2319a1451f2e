package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/healthbridge/internal/config"
	"github.com/jwalitptl/healthbridge/internal/email"
	"github.com/jwalitptl/healthbridge/internal/handler/health"
	promHandler "github.com/jwalitptl/healthbridge/internal/handler/prometheus"
	"github.com/jwalitptl/healthbridge/internal/repository/postgres"
	analyticsService "github.com/jwalitptl/healthbridge/internal/service/analytics"
	"github.com/jwalitptl/healthbridge/internal/worker"
	"github.com/jwalitptl/healthbridge/pkg/logger"
	"github.com/jwalitptl/healthbridge/pkg/messaging/redis"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
	outbox "github.com/jwalitptl/healthbridge/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	logr := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	}).WithFields(map[string]interface{}{"worker_id": fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())})
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logr.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), logr.Zerolog())
	if err != nil {
		logr.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db, m)
	outboxRepo := postgres.NewOutboxRepository(base)

	processor, err := outbox.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), logr, m)
	if err != nil {
		logr.Fatal(err, "Invalid outbox configuration")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.RetentionDays, cfg.Outbox.CleanupInterval, logr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		processor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		cleanup.Start(gctx)
		return nil
	})

	if cfg.Alerts.Enabled() {
		analytics := analyticsService.NewService(
			postgres.NewAnalyticsRepository(base),
			postgres.NewDocumentRepository(base),
			postgres.NewPatientRepository(base),
			postgres.NewDiseaseRepository(base),
			cfg.Analytics,
			m,
		)
		job := worker.NewSurveillanceAlertJob(analytics, email.NewSMTPService(cfg.Alerts), cfg.Alerts.Interval, logr)
		g.Go(func() error {
			job.Start(gctx)
			return nil
		})
	} else {
		logr.Info("Outbreak alert mail disabled, no SMTP host or recipients configured")
	}

	srv := healthServer(cfg.Worker.HealthPort, map[string]health.Check{
		"postgres": db.PingContext,
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health check server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logr.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logr.Info("Worker started")
	if err := g.Wait(); err != nil {
		logr.Error(err, "Worker exited with error")
		os.Exit(1)
	}
}

func healthServer(port int, checks map[string]health.Check) *http.Server {
	prom := promHandler.New(prometheus.DefaultGatherer)
	engine := gin.New()
	engine.Use(gin.Recovery(), prom.Middleware())
	health.NewHandler(checks, prom.Handler()).RegisterRoutes(engine.Group(""))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
