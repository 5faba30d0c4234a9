package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/research-docs-api/api/swagger"
	"github.com/noah-isme/research-docs-api/internal/handler"
	internalmiddleware "github.com/noah-isme/research-docs-api/internal/middleware"
	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/repository"
	"github.com/noah-isme/research-docs-api/internal/service"
	"github.com/noah-isme/research-docs-api/pkg/cache"
	"github.com/noah-isme/research-docs-api/pkg/config"
	"github.com/noah-isme/research-docs-api/pkg/database"
	"github.com/noah-isme/research-docs-api/pkg/jobs"
	"github.com/noah-isme/research-docs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/research-docs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/research-docs-api/pkg/middleware/requestid"
	"github.com/noah-isme/research-docs-api/pkg/realtime"
	"github.com/noah-isme/research-docs-api/pkg/storage"
	"github.com/noah-isme/research-docs-api/pkg/thumbnail"
)

// @title Research Document Portal API
// @version 1.0.0
// @description Document checklists, reviews, reports and messaging for graduate research students
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
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Realtime.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, cache and cross-instance realtime disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	validate := service.NewValidator()
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, "research-docs", logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	} else {
		cacheSvc = service.NewCacheService(nil, metricsSvc, cfg.Cache.TTL, logr, false)
	}

	hub := realtime.NewHub(func(realtime.Event) { metricsSvc.RecordRealtimeDrop() })
	var broker *realtime.RedisBroker
	if redisClient != nil && cfg.Realtime.Enabled {
		broker = realtime.NewRedisBroker(hub, redisClient, cfg.Realtime.Channel, logr)
		go func() {
			if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Sugar().Warnw("realtime bridge stopped", "error", err)
			}
		}()
	} else {
		broker = realtime.NewRedisBroker(hub, nil, cfg.Realtime.Channel, logr)
	}

	apiPrefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	documentStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare document storage", "error", err)
	}
	bucket := storage.NewBucket(
		documentStore,
		storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL),
		cfg.PublicURL+apiPrefix+"/files/download",
		cfg.PublicURL+apiPrefix+"/files/public",
	)
	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare report storage", "error", err)
	}
	reportSigner := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	accountRepo := repository.NewAccountRepository(db)
	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	researchRepo := repository.NewResearchRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	reportJobRepo := repository.NewReportJobRepository(db)

	authSvc := service.NewAuthService(accountRepo, userRepo, cacheSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	announcementSvc := service.NewAnnouncementService(announcementRepo, accountRepo, validate, logr)
	researchSvc := service.NewResearchService(researchRepo, userRepo, validate, logr)
	reportBuilder := service.NewReportBuilder(userRepo, programRepo, documentRepo, metricsSvc)

	var rosterSvc *service.RosterService
	exporter := service.NewExportService(
		reportBuilder,
		service.RosterSourceFunc(func(ctx context.Context) (*models.Roster, error) { return rosterSvc.Load(ctx) }),
		reportStore,
		reportSigner,
		service.ExportConfig{APIPrefix: apiPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
		logr,
		nil,
		nil,
	)
	rosterSvc = service.NewRosterService(userRepo, programRepo, documentRepo, researchRepo, bucket, accountRepo, exporter, cacheSvc, logr, service.RosterServiceConfig{
		CacheTTL: cfg.Cache.TTL,
	})
	documentSvc := service.NewDocumentService(
		documentRepo,
		programRepo,
		userRepo,
		accountRepo,
		bucket,
		thumbnail.NewGenerator(cfg.Documents.ThumbnailSize),
		exporter,
		cacheSvc,
		metricsSvc,
		validate,
		logr,
		service.DocumentServiceConfig{
			MaxFileSize:  cfg.Documents.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Documents.AllowedMIMEs,
		},
	)
	profileSvc := service.NewProfileService(userRepo, accountRepo, programRepo, documentRepo, researchRepo, announcementSvc, bucket, cacheSvc, validate, logr)
	messageSvc := service.NewMessageService(messageRepo, userRepo, bucket, broker, validate, logr, service.MessageServiceConfig{
		MaxAttachmentSize: cfg.Documents.MaxFileSizeBytes,
	})

	worker := service.NewReportWorker(reportJobRepo, exporter, metricsSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:     cfg.Reports.WorkerConcurrency,
		MaxRetries:  cfg.Reports.WorkerRetries,
		Logger:      logr,
		OnExhausted: worker.Exhausted,
	})
	reportSvc := service.NewReportService(reportJobRepo, queue, exporter, reportBuilder, cacheSvc, metricsSvc, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
		CacheTTL:        cfg.Cache.TTL,
	})
	if cfg.Reports.Enabled {
		queue.Start(ctx)
		defer queue.Stop()
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	authHandler := handler.NewAuthHandler(authSvc)
	profileHandler := handler.NewProfileHandler(profileSvc)
	studentHandler := handler.NewStudentHandler(profileSvc, documentSvc, researchSvc)
	documentHandler := handler.NewDocumentHandler(documentSvc, bucket, cfg.Documents.MaxFileSizeBytes)
	coordinatorHandler := handler.NewCoordinatorHandler(rosterSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	announcementHandler := handler.NewAnnouncementHandler(announcementSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	streamCfg := handler.MessageStreamConfig{
		OriginPatterns: cfg.Realtime.AllowedOrigins,
		Buffer:         cfg.Realtime.SubscriberBuffer,
		MaxAttachment:  cfg.Documents.MaxFileSizeBytes,
	}
	var messageHandler *handler.MessageHandler
	if cfg.Realtime.Enabled {
		messageHandler = handler.NewMessageHandler(messageSvc, hub, streamCfg, logr)
	} else {
		messageHandler = handler.NewMessageHandler(messageSvc, nil, streamCfg, logr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	reviewers := internalmiddleware.RequireReviewer()
	students := internalmiddleware.RequireRoles(models.RoleStudent)

	api := r.Group(apiPrefix)
	api.Use(internalmiddleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	api.GET("/files/download", documentHandler.Download)
	api.GET("/files/public/*path", documentHandler.Public)
	api.GET("/export/:token", internalmiddleware.Audit(accountRepo, models.AuditActionReportExport, "report_export", ""), reportHandler.DownloadReport)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))

	secured.POST("/auth/logout", authHandler.Logout)
	secured.POST("/auth/change-password", authHandler.ChangePassword)
	secured.GET("/auth/me", authHandler.Me)

	secured.GET("/profile", profileHandler.Get)
	secured.PUT("/profile", profileHandler.Update)

	student := secured.Group("/student", students)
	student.GET("/dashboard", studentHandler.Dashboard)
	student.GET("/history", studentHandler.History)
	student.GET("/history/export", studentHandler.ExportHistory)
	student.GET("/research", studentHandler.Research)
	student.PUT("/research", studentHandler.UpsertResearch)

	documents := secured.Group("/documents")
	documents.POST("", students, documentHandler.Upload)
	documents.GET("/:id/url", documentHandler.SignedURL)
	documents.GET("/:id/logs", documentHandler.Logs)
	documents.POST("/:id/approve", reviewers, documentHandler.Approve)
	documents.POST("/:id/reject", reviewers, documentHandler.Reject)

	coordinator := secured.Group("/coordinator/students", reviewers)
	coordinator.GET("", coordinatorHandler.Roster)
	coordinator.GET("/export", internalmiddleware.Audit(accountRepo, models.AuditActionRosterExport, "roster", ""), coordinatorHandler.Export)
	coordinator.GET("/:id", coordinatorHandler.Detail)
	coordinator.GET("/:id/quick-view", coordinatorHandler.QuickView)
	coordinator.POST("/:id/approve", coordinatorHandler.Approve)
	coordinator.POST("/:id/reject", coordinatorHandler.Reject)

	reports := secured.Group("/reports", reviewers)
	reports.GET("/overview", reportHandler.Overview)
	if cfg.Reports.Enabled {
		reports.POST("", reportHandler.GenerateReport)
		reports.GET("/:id", reportHandler.ReportStatus)
	}

	announcements := secured.Group("/announcements")
	announcements.GET("", announcementHandler.List)
	announcements.POST("", reviewers, announcementHandler.Create)
	announcements.DELETE("/:id", reviewers, announcementHandler.Delete)

	messages := secured.Group("/messages")
	messages.GET("/contacts", messageHandler.Contacts)
	messages.GET("/stream", messageHandler.Stream)
	messages.GET("/:userId", messageHandler.Conversation)
	messages.POST("/:userId", messageHandler.Send)

	secured.GET("/metrics/snapshot", reviewers, metricsHandler.Snapshot)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
