package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "movementflow/api/swagger" // swagger docs
	"movementflow/internal/access"
	"movementflow/internal/config"
	"movementflow/internal/database"
	"movementflow/internal/flow"
	"movementflow/internal/handler"
	"movementflow/internal/middleware"
	"movementflow/internal/notification"
	"movementflow/internal/observability"
	"movementflow/internal/repository"
	"movementflow/internal/service"
	"movementflow/internal/storage"
	"movementflow/internal/websocket"
	"movementflow/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Movement Request Approval API
// @version         1.0
// @description     Inventory movement requests and their eight-stage approval workflow.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		zlog.Fatal("Database connection failed", zap.Error(err))
	}
	zlog.Info("Connected to database", zap.String("driver", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(zlog)
	go wsHub.Run(ctx.Done())

	// Repositories
	requestRepo := repository.NewRequestRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	evidenceRepo := repository.NewEvidenceRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewDirectoryUserRepository(db)
	accessRepo := repository.NewStageAccessRepository(db)
	txManager := repository.NewTransactionManager(db)

	// Stage access: local cache, invalidated across instances through Redis
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
	}
	accessCache := access.NewCache(access.RepositoryLoader(accessRepo), cfg.Approval.AccessCacheTTL, nil)
	accessService := access.NewService(accessRepo, auditRepo, accessCache, access.NewBus(rdb, cfg.Redis.Channel, zlog), zlog)
	if err := accessService.Listen(ctx); err != nil {
		zlog.Warn("Stage access invalidation disabled", zap.Error(err))
	}

	// Notifications go out after commit through the outbox
	outbox := notification.NewOutbox(notification.NewSender(cfg.Notification, zlog), cfg.Notification.QueueSize, zlog)
	notifier := notification.NewNotifier(
		notification.NewComposer(cfg.Notification.AppURL),
		notification.NewResolver(userRepo, cfg.Notification.FallbackDomain, zlog),
		outbox,
		cfg.Notification.StageRecipients,
		zlog,
	)

	files := storage.NewLocalFileStorage(cfg.Storage.BaseDir, zlog)
	policy, err := flow.PolicyByName(cfg.Approval.FinRule)
	if err != nil {
		zlog.Fatal("Invalid FIN rule", zap.Error(err))
	}

	// Services
	requestService := service.NewRequestService(service.RequestServiceDeps{
		Requests:  requestRepo,
		Approvals: approvalRepo,
		Evidence:  evidenceRepo,
		Audit:     auditRepo,
		TxManager: txManager,
		Policy:    policy,
		Files:     files,
		MaxBytes:  cfg.Storage.MaxEvidenceBytes,
		Notifier:  notifier,
		Events:    wsHub,
		Log:       zlog,
	})
	approvalService := service.NewApprovalService(service.ApprovalServiceDeps{
		Requests:  requestRepo,
		Approvals: approvalRepo,
		Audit:     auditRepo,
		TxManager: txManager,
		Gate:      accessService,
		Notifier:  notifier,
		Events:    wsHub,
		Log:       zlog,
	})
	finalizationService := service.NewFinalizationService(service.FinalizationServiceDeps{
		Requests:  requestRepo,
		Approvals: approvalRepo,
		Audit:     auditRepo,
		TxManager: txManager,
		Files:     files,
		Events:    wsHub,
		Log:       zlog,
	})
	middleware.InitAuth(cfg.Auth.JWTSecret, cfg.Server.Mode == gin.ReleaseMode)
	authService := service.NewAuthService(service.NewLocalDirectory(userRepo), userRepo, auditRepo,
		middleware.GetJWTSecret(), cfg.Auth.TokenTTL, zlog)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	authHandler := handler.NewAuthHandler(authService)
	requestHandler := handler.NewRequestHandler(requestService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	finalizationHandler := handler.NewFinalizationHandler(finalizationService)
	stageAccessHandler := handler.NewStageAccessHandler(accessService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(zlog))
	router.MaxMultipartMemory = 32 << 20

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/metrics", observability.Handler())

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// API Routing
	authHandler.RegisterRoutes(router.Group(""))
	requestHandler.RegisterRoutes(router.Group(""))
	approvalHandler.RegisterRoutes(router.Group(""))
	finalizationHandler.RegisterRoutes(router.Group(""))
	stageAccessHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zlog.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Graceful shutdown failed", zap.Error(err))
	}
	// Deliver what is already queued before exiting.
	outbox.Close()
}
