package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/handler"
	"github.com/noah-isme/assignment-review-api/internal/middleware"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/service"
	"github.com/noah-isme/assignment-review-api/pkg/config"
	"github.com/noah-isme/assignment-review-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/assignment-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/assignment-review-api/pkg/middleware/requestid"
)

type routerDeps struct {
	tokens        middleware.TokenVerifier
	metrics       *service.MetricsService
	assignments   *handler.AssignmentHandler
	approvals     *handler.ApprovalHandler
	files         *handler.FileHandler
	ledger        *handler.LedgerHandler
	notifications *handler.NotificationHandler
	ops           *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)
	if cfg.EnableDocs && cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	// Signed tokens authorize downloads on their own.
	api.GET("/files/download", d.files.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(d.tokens))

	students := middleware.RequireRoles(models.RoleStudent)
	reviewers := middleware.RequireRoles(models.RoleProfessor, models.RoleHOD)

	assignments := secured.Group("/assignments")
	assignments.POST("", students, d.assignments.Create)
	assignments.GET("/:id", d.assignments.Get)
	assignments.PATCH("/:id", students, d.assignments.Update)
	assignments.GET("/:id/reviewers", d.assignments.Reviewers)
	assignments.POST("/:id/submit", students, d.assignments.Submit)
	assignments.POST("/:id/resubmit", students, d.assignments.Resubmit)
	assignments.POST("/:id/reject", reviewers, d.assignments.Reject)
	assignments.POST("/:id/forward", reviewers, d.assignments.Forward)
	assignments.POST("/:id/approval", reviewers, d.approvals.Initiate)
	assignments.POST("/:id/approval/confirm", reviewers, d.approvals.Confirm)

	assignments.POST("/:id/files", students, d.files.Upload)
	assignments.GET("/:id/files", d.files.List)
	assignments.GET("/:id/files/:fileId", d.files.Get)
	assignments.GET("/:id/files/:fileId/download-url", d.files.DownloadURL)

	assignments.GET("/:id/ledger", d.ledger.List)
	assignments.GET("/:id/ledger/export", d.ledger.Export)

	notifications := secured.Group("/notifications")
	notifications.GET("", d.notifications.List)
	notifications.POST("/:id/read", d.notifications.MarkRead)

	return r
}
