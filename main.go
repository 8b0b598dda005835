package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-service/common/logger"
	commonmw "portal-service/common/middleware"
	"portal-service/config"
	"portal-service/controllers"
	"portal-service/database"
	"portal-service/metrics"
	"portal-service/models"
	awspkg "portal-service/pkg/aws"
	"portal-service/ratelimit"
	"portal-service/repository"
	"portal-service/routes"
	"portal-service/secure"
	"portal-service/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[BusinessPortal] Failed to load config: ", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	awsReady := err == nil
	if !awsReady {
		log.Println("[BusinessPortal] AWS config unavailable, AWS integrations disabled:", err)
	}

	var cwWriter io.Writer
	if cfg.CloudWatchEnabled && awsReady {
		cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, "business-portal")
		if err != nil {
			log.Println("[BusinessPortal] CloudWatch Logs unavailable:", err)
		} else {
			cwWriter = cw
		}
	}

	appLogger, err := logger.New(cfg.Env, cwWriter)
	if err != nil {
		log.Fatal("[BusinessPortal] Failed to initialize logger: ", err)
	}
	defer appLogger.Sync()
	zap.ReplaceGlobals(appLogger)

	// --- Storage ---

	db, err := database.ConnectPostgres(cfg.DatabaseURL, appLogger,
		&models.Submission{}, &models.PaymentSideEffect{}, &models.Profile{})
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	submissions := repository.NewGormSubmissionRepository(db)
	profiles := repository.NewGormProfileRepository(db)

	healthChecks := map[string]controllers.Pinger{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		store = ratelimit.NewRedisStore(redisClient)
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		appLogger.Info("Rate limiter using Redis store")
	}

	// --- Observability ---

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.New(registry)

	var cwMetrics *awspkg.MetricsClient
	if awsReady {
		cwMetrics = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	events := secure.NewEventLogger(appLogger, promMetrics)
	limiter := ratelimit.New(store)

	// --- Payments ---

	deps := services.PaymentDeps{
		Repo:            submissions,
		Stripe:          services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		Metrics:         promMetrics,
		CloudWatch:      cwMetrics,
		Security:        events,
		Logger:          appLogger,
		DefaultCurrency: cfg.DefaultCurrency,
		FrontendURL:     cfg.FrontendURL,
	}
	if cfg.PaymentSNSTopicARN != "" && awsReady {
		deps.Events = services.NewSNSPaymentPublisher(awspkg.NewSNSClient(awsCfg), cfg.PaymentSNSTopicARN)
	}
	if cfg.NotifyWebhookURL != "" {
		client := secure.NewClient(limiter, events, appLogger,
			secure.WithAuthToken(secure.StaticToken(cfg.ServiceRoleKey)),
			secure.WithCSRFToken(secure.StaticToken(cfg.NotifyCSRFToken)),
		)
		deps.Notifier = services.NewWebhookNotifier(client, cfg.NotifyWebhookURL)
	}
	var reconcileQueue *awspkg.SQSQueue
	if cfg.ReconcileQueueURL != "" && awsReady {
		reconcileQueue = awspkg.NewSQSQueue(awsCfg, cfg.ReconcileQueueURL, appLogger)
		deps.Reconcile = reconcileQueue
	}
	paymentService := services.NewPaymentService(deps)

	if reconcileQueue != nil {
		go services.NewReconcileConsumer(reconcileQueue, paymentService, appLogger).Start(ctx)
	}

	// --- Uploads ---

	var storage awspkg.ObjectStorage
	if cfg.UploadBucket != "" && awsReady {
		storage = awspkg.NewS3Storage(awsCfg, cfg.UploadBucket)
	}
	uploadService := services.NewUploadService(submissions, storage, services.NewMagicDetector(),
		cfg.MaxUploadBytes, promMetrics, cwMetrics, events, appLogger)

	// --- HTTP ---

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	floodGuard := commonmw.NewFloodGuard(rate.Limit(20), 40, 10*time.Minute)
	defer floodGuard.Close()

	r := routes.NewRouter(routes.Deps{
		Payments:   controllers.NewPaymentController(paymentService, appLogger),
		Tracking:   controllers.NewTrackingController(services.NewTrackingService(submissions), appLogger),
		Uploads:    controllers.NewUploadController(uploadService, cfg.MaxUploadBytes, appLogger),
		Profiles:   controllers.NewProfileController(services.NewProfileService(profiles, appLogger), appLogger),
		Health:     controllers.NewHealthController(healthChecks),
		Limiter:    limiter,
		Events:     events,
		Metrics:    promMetrics,
		CloudWatch: cwMetrics,
		FloodGuard: floodGuard,
		JWTSecret:  cfg.JWTSecret,
		ServiceKey: cfg.ServiceRoleKey,
		Logger:     appLogger,

		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Business Portal starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down Business Portal...")

	// Stop the reconcile poller before draining HTTP.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	paymentService.WaitForNotifications()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	appLogger.Info("Business Portal stopped gracefully")
}
