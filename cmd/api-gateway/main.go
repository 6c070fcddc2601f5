package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/assignment-review-api/api/swagger"
	"github.com/noah-isme/assignment-review-api/internal/handler"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	"github.com/noah-isme/assignment-review-api/internal/service"
	"github.com/noah-isme/assignment-review-api/pkg/cache"
	"github.com/noah-isme/assignment-review-api/pkg/config"
	"github.com/noah-isme/assignment-review-api/pkg/database"
	"github.com/noah-isme/assignment-review-api/pkg/delivery"
	"github.com/noah-isme/assignment-review-api/pkg/jobs"
	"github.com/noah-isme/assignment-review-api/pkg/logger"
	"github.com/noah-isme/assignment-review-api/pkg/storage"
)

// @title Assignment Review API
// @version 1.0.0
// @description Document review workflow with audit ledger and one-time code approval
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logr.Fatal("failed to apply schema", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	blobs, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		logr.Fatal("failed to prepare blob storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	metrics := service.NewMetricsService()
	validate := service.NewValidator()
	deliverer := newDeliverer(cfg.Delivery, logr)

	assignmentRepo := repository.NewAssignmentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	fileRepo := repository.NewFileVersionRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	challengeRepo := repository.NewChallengeRepository(redisClient, cfg.Approval.ChallengeRetention)
	cacheRepo := repository.NewCacheRepository(redisClient, "directory", logr)

	directory := service.NewDirectoryService(userRepo, cacheRepo, cfg.Directory.CacheTTL, metrics, logr)
	directory.Flush(ctx)

	notifications := service.NewNotificationService(notificationRepo, directory, deliverer, metrics, logr)
	deliveryQueue := jobs.NewQueue("notification-delivery", notifications.HandleDeliveryJob, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.Buffer,
		MaxRetries: -1,
		JobTimeout: 30 * time.Second,
		Logger:     logr,
	})
	notifications.UseQueue(deliveryQueue)
	deliveryQueue.Start(ctx)
	defer deliveryQueue.Stop()

	apiPrefix := cfg.APIPrefix
	files := service.NewFileService(blobs, signer, assignmentRepo, ledgerRepo, fileRepo, directory, metrics, logr, apiPrefix)
	workflow := service.NewWorkflowService(assignmentRepo, ledgerRepo, fileRepo, directory, notifications, validate, logr,
		service.WithWorkflowMetrics(metrics),
		service.WithUploadStager(files),
	)
	approvals := service.NewApprovalService(workflow, challengeRepo, deliverer, service.ApprovalConfig{
		MaxAttempts: cfg.Approval.MaxAttempts,
		HashCost:    cfg.Approval.CodeHashCost,
	}, metrics, logr)
	ledger := service.NewLedgerService(assignmentRepo, ledgerRepo, directory, nil, nil, logr)
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	router := newRouter(cfg, logr, routerDeps{
		tokens:        tokens,
		metrics:       metrics,
		assignments:   handler.NewAssignmentHandler(workflow),
		approvals:     handler.NewApprovalHandler(approvals),
		files:         handler.NewFileHandler(files),
		ledger:        handler.NewLedgerHandler(ledger),
		notifications: handler.NewNotificationHandler(notifications),
		ops: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"postgres": db.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "delivery", cfg.Delivery.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newDeliverer(cfg config.DeliveryConfig, logr *zap.Logger) delivery.Deliverer {
	if cfg.Driver == config.DeliveryDriverLark {
		return delivery.NewLarkDeliverer(delivery.LarkConfig{AppID: cfg.LarkAppID, AppSecret: cfg.LarkAppSecret, BaseURL: cfg.LarkBaseURL}, logr)
	}
	return delivery.NewLogDeliverer(logr)
}
