package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/storage"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "storefront", cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized")

	artifacts, err := storage.NewLocalStorage(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	biz := cfg.Business
	catalog := service.NewCatalogClient(db, redisClient,
		time.Duration(biz.CatalogCacheTTLSeconds)*time.Second, biz.CollaboratorTimeout)

	cartService := service.NewCartService(db, catalog)
	checkoutService := service.NewCheckoutService(db, db, catalog.Fresh(), eventPublisher, cfg.Banks).
		WithReplayCache(redisClient, time.Duration(biz.CheckoutReplayTTLSeconds)*time.Second).
		WithLocker(redisClient)
	paymentService := service.NewPaymentService(db, artifacts, eventPublisher, biz.ProofMaxBytes, biz.CollaboratorTimeout)
	reviewService := service.NewReviewService(db, eventPublisher, biz.ApprovalStockPolicy)
	reportService := service.NewReportService(db, biz.LowStockThreshold)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	cacheConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	cacheWorker := worker.NewCatalogCacheWorker(cacheConsumer, db, redisClient)
	go func() {
		if err := cacheWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Catalog cache worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Static("/uploads", artifacts.Root())
	handler := api.NewHandler(api.Services{
		Cart:     cartService,
		Checkout: checkoutService,
		Payments: paymentService,
		Review:   reviewService,
		Reports:  reportService,
	}, biz.ProofMaxBytes).
		WithReadinessCheck("database", db.Ping).
		WithReadinessCheck("redis", redisClient.Ping)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := multierr.Combine(
		cacheWorker.Stop(),
		producer.Close(),
		redisClient.Close(),
		db.Close(),
	); err != nil {
		logger.Warn("Errors while closing resources", zap.Error(err))
	}

	logger.Info("Server exited")
}
