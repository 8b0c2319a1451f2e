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
	"golang.org/x/time/rate"

	"github.com/jwalitptl/healthbridge/internal/config"
	"github.com/jwalitptl/healthbridge/internal/extractor"
	analyticsHandler "github.com/jwalitptl/healthbridge/internal/handler/analytics"
	documentHandler "github.com/jwalitptl/healthbridge/internal/handler/document"
	"github.com/jwalitptl/healthbridge/internal/handler/health"
	patientHandler "github.com/jwalitptl/healthbridge/internal/handler/patient"
	processingHandler "github.com/jwalitptl/healthbridge/internal/handler/processing"
	promHandler "github.com/jwalitptl/healthbridge/internal/handler/prometheus"
	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/repository"
	"github.com/jwalitptl/healthbridge/internal/repository/mongo"
	"github.com/jwalitptl/healthbridge/internal/repository/postgres"
	"github.com/jwalitptl/healthbridge/internal/router"
	analyticsService "github.com/jwalitptl/healthbridge/internal/service/analytics"
	documentService "github.com/jwalitptl/healthbridge/internal/service/document"
	eventService "github.com/jwalitptl/healthbridge/internal/service/event"
	patientService "github.com/jwalitptl/healthbridge/internal/service/patient"
	processingService "github.com/jwalitptl/healthbridge/internal/service/processing"
	"github.com/jwalitptl/healthbridge/internal/worker"
	"github.com/jwalitptl/healthbridge/pkg/logger"
	"github.com/jwalitptl/healthbridge/pkg/messaging"
	"github.com/jwalitptl/healthbridge/pkg/messaging/redis"
	"github.com/jwalitptl/healthbridge/pkg/metrics"
	outbox "github.com/jwalitptl/healthbridge/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logr := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logr.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logr.Fatal(err, "failed to migrate database")
	}

	mongoClient, err := mongo.Connect(ctx, cfg.Mongo)
	if err != nil {
		logr.Fatal(err, "failed to connect to mongo")
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	rawStore, err := mongo.NewRawDocumentStore(ctx, mongoClient, cfg.Mongo.Database)
	if err != nil {
		logr.Fatal(err, "failed to prepare raw document store")
	}

	// Repositories
	base := postgres.NewBaseRepository(db, m)
	documentRepo := postgres.NewDocumentRepository(base)
	logRepo := postgres.NewProcessingLogRepository(base)
	patientRepo := postgres.NewPatientRepository(base)
	diseaseRepo := postgres.NewDiseaseRepository(base)
	analyticsRepo := postgres.NewAnalyticsRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	// Extraction services
	extractors, err := buildExtractors(ctx, cfg.Extractors)
	if err != nil {
		logr.Fatal(err, "failed to initialize extractors")
	}
	for _, e := range extractors {
		logr.Info("extraction service configured", "service", e.Name(), "available", e.Available())
	}
	pipeline := ingestion.NewPipeline(m, extractors...)

	// Services
	analyticsSvc := analyticsService.NewService(analyticsRepo, documentRepo, patientRepo, diseaseRepo, cfg.Analytics, m)
	eventSvc := eventService.NewEventService(outboxRepo, analyticsSvc)
	processingSvc := processingService.NewService(pipeline, patientRepo, eventSvc, m)
	documentSvc := documentService.NewService(documentRepo, logRepo, rawStore, processingSvc, eventSvc, m, documentService.Config{
		MaxUploadSize: cfg.Upload.MaxSizeBytes,
		Concurrency:   cfg.Processing.Concurrency,
	})
	patientSvc := patientService.NewService(patientRepo, diseaseRepo, eventSvc)

	// The broker is optional for the API: without it events stay in the
	// outbox until a worker relays them.
	checks := map[string]health.Check{
		"postgres": db.PingContext,
		"mongo": func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		},
	}
	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), logr.Zerolog())
	if err != nil {
		logr.Warn("message broker unavailable, outbox relay disabled", "error", err.Error())
	} else {
		defer broker.Close()
		if p, ok := broker.(interface{ Ping(context.Context) error }); ok {
			checks["redis"] = p.Ping
		}
	}

	// HTTP
	prom := promHandler.New(prometheus.DefaultGatherer)
	r := router.NewRouter(logr, prom, health.NewHandler(checks, prom.Handler()), router.RouterConfig{
		RateLimit:     rate.Limit(cfg.Server.RateLimit),
		RateBurst:     cfg.Server.RateBurst,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Timeout:       time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		MaxUploadSize: cfg.Upload.MaxSizeBytes,
	},
		documentHandler.NewHandler(documentSvc, cfg.Upload.MaxSizeBytes),
		processingHandler.NewHandler(processingSvc, cfg.Upload.MaxSizeBytes),
		patientHandler.NewHandler(patientSvc),
		analyticsHandler.NewHandler(analyticsSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logr.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if broker != nil {
		if err := startBackground(gctx, g, cfg, broker, outboxRepo, analyticsSvc, logr, m); err != nil {
			logr.Fatal(err, "failed to start background workers")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logr.Error(err, "server exited with error")
		os.Exit(1)
	}
	logr.Info("server exited properly")
}

// startBackground runs the outbox relay and listens for data changes made by
// other processes so this instance's analytics cache stays fresh.
func startBackground(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	broker messaging.Broker,
	outboxRepo repository.OutboxRepository,
	analytics *analyticsService.Service,
	logr *logger.Logger,
	m *metrics.Metrics,
) error {
	processor, err := outbox.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), logr, m)
	if err != nil {
		return err
	}
	subscriber := worker.NewCacheInvalidationSubscriber(broker, logr, analytics)

	g.Go(func() error {
		processor.Start(ctx)
		return nil
	})
	g.Go(func() error {
		if err := subscriber.Run(ctx); err != nil {
			logr.Error(err, "cache invalidation subscriber stopped")
		}
		return nil
	})
	return nil
}

func buildExtractors(ctx context.Context, cfg config.ExtractorsConfig) ([]extractor.Extractor, error) {
	gemini, err := extractor.NewGemini(ctx, extractor.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return nil, err
	}

	return []extractor.Extractor{
		extractor.NewEkaLab(extractor.EkaLabConfig{
			APIKey:       cfg.EkaAPIKey,
			BaseURL:      cfg.EkaBaseURL,
			Timeout:      cfg.Timeout,
			PollInterval: cfg.EkaPollInterval,
			MaxPolls:     cfg.EkaMaxPolls,
		}),
		extractor.NewEkaScribe(extractor.EkaScribeConfig{
			URL:     cfg.EkaScribeURL,
			Timeout: cfg.Timeout,
		}),
		gemini,
		extractor.NewOpenAI(extractor.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		}),
	}, nil
}
