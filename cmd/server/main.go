package main

import (
	"context"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"riskwatch/internal/baseline"
	"riskwatch/internal/bot"
	"riskwatch/internal/cache"
	"riskwatch/internal/config"
	"riskwatch/internal/db"
	"riskwatch/internal/handler"
	"riskwatch/internal/job"
	"riskwatch/internal/narrative"
	"riskwatch/internal/repository"
	"riskwatch/internal/service"
	"riskwatch/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var (
	loadEnvFunc                 = godotenv.Load
	loadConfigFunc              = config.Load
	initPostgresFunc            = db.InitPostgres
	initRedisFunc               = cache.InitRedis
	initTracerFunc              = tracing.InitTracer
	newInvestigationRepoFunc    = repository.NewInvestigationRepository
	newInsightRepoFunc          = repository.NewInsightRepository
	newActivityRepoFunc         = repository.NewActivityRepository
	newMarketRepoFunc           = repository.NewMarketRepository
	newInvestigationServiceFunc = service.NewInvestigationService
	newInsightServiceFunc       = service.NewInsightService
	newActivityServiceFunc      = service.NewActivityService
	newMarketServiceFunc        = service.NewMarketService
	newInsightScannerFunc       = job.NewInsightScanner
	startScannerFunc            = func(s *job.InsightScanner, ctx context.Context) { go s.Start(ctx) }
	startTelegramBotFunc        = bot.StartTelegramBot
	newHandlerFunc              = handler.New
	newRouterFunc               = gin.Default
	setupSignalNotify           = ossignal.Notify
	waitForSignalFunc           = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc         = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc      = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	if err := cfg.Thresholds.Validate(); err != nil {
		log.Fatalf("invalid threshold configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	initPostgresFunc(ctx, cfg.DatabaseURL)
	initRedisFunc(ctx, cfg.RedisURL)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations
	investigationRepo := newInvestigationRepoFunc(db.Pool, tracer)
	insightRepo := newInsightRepoFunc(db.Pool, tracer)
	activityRepo := newActivityRepoFunc(db.Pool, tracer)
	marketRepo := newMarketRepoFunc(db.Pool, tracer)
	if db.Pool != nil {
		if err := investigationRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run investigation migrations: %v", err)
		}
		if err := insightRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run insight migrations: %v", err)
		}
		if err := activityRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run activity migrations: %v", err)
		}
		if err := marketRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run market migrations: %v", err)
		}
	}

	// Create narrator and baseline cache
	var narrator narrative.Narrator = narrative.NewTemplateNarrator()
	if cfg.NarrativeMode == "openai" {
		narrator = narrative.NewOpenAINarrator(
			cfg.OpenAIAPIKey,
			cfg.OpenAIModel,
			time.Duration(cfg.NarrativeTimeoutSecs)*time.Second,
		)
	}
	baselineCache := baseline.NewCache(cache.Client, time.Duration(cfg.BaselineCacheTTLSecs)*time.Second)

	// Create services
	investigationService := newInvestigationServiceFunc(
		tracer, investigationRepo, baselineCache, narrator, nil, cfg.Thresholds, nil,
	)
	insightService := newInsightServiceFunc(
		tracer, activityRepo, marketRepo, insightRepo, narrator, cfg.Thresholds, nil,
	)
	activityService := newActivityServiceFunc(tracer, activityRepo, baselineCache, nil)
	marketService := newMarketServiceFunc(tracer, marketRepo)

	// Start background scanner (stopped by ctx cancel)
	scanner := newInsightScannerFunc(tracer, activityRepo, insightService, cfg.ScanPollSecs)
	startScannerFunc(scanner, ctx)

	// Start Telegram bot and hook the dispatcher into critical alerts
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if alerts := startTelegramBotFunc(investigationService, insightService); alerts != nil {
		investigationService.SetNotifier(alerts)
	}

	// Create handlers and routes
	h := newHandlerFunc(tracer, investigationService, insightService, activityService, marketService)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("riskwatch"))
	r.Use(cors.Default())

	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    httpAddrFromEnv(),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func httpAddrFromEnv() string {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return ":8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}
