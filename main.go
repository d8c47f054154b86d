package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linhnguyen0702/contractledger/config"
	"github.com/linhnguyen0702/contractledger/handler"
	"github.com/linhnguyen0702/contractledger/middleware"
	"github.com/linhnguyen0702/contractledger/pkg/logger"
	"github.com/linhnguyen0702/contractledger/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Select contract store and audit sink
	var store service.ContractStore
	var audit service.AuditSink
	switch cfg.Store.Driver {
	case "postgres":
		db, err := service.OpenDatabase(cfg.Store.DSN)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		store = service.NewGormStore(db)
		audit = service.NewGormAuditSink(db)
		slog.Info("using postgres store")
	default:
		store = service.NewMemoryStore()
		audit = service.NewMemoryAuditSink()
		slog.Info("using in-memory store")
	}

	// Optional ledger synchronization
	var sync *service.SyncAdapter
	if cfg.Ledger.Enabled {
		client, err := service.NewEthLedgerClient(&cfg.Ledger)
		if err != nil {
			slog.Error("failed to initialize ledger client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := client.HealthCheck(ctx); err != nil {
			slog.Warn("ledger node unreachable, sync will fail until it recovers", "error", err)
		}
		cancel()

		sync = service.NewSyncAdapter(client)
		slog.Info("ledger sync enabled",
			"network", cfg.Ledger.Network,
			"contract_address", cfg.Ledger.ContractAddress)
	} else {
		slog.Info("ledger sync disabled, contracts are stored off-chain only")
	}

	lifecycle := service.NewLifecycle(store, audit, sync)

	// Optional object storage for attachments
	var attachments *service.AttachmentService
	if cfg.Minio.Endpoint != "" {
		attachments, err = service.NewAttachmentService(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize object storage", "error", err)
			os.Exit(1)
		}
		if err := attachments.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure storage bucket", "error", err)
			os.Exit(1)
		}
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler(lifecycle, attachments)
	auditHandler := handler.NewAuditHandler(audit)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	router.Use(corsMiddleware())           // CORS

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes. Login is throttled by client IP since nobody is
	// authenticated yet.
	api := router.Group("/api")
	{
		api.POST("/auth/login", middleware.RateLimit(20, time.Minute), authHandler.Login)
	}

	// Protected routes, throttled per authenticated user
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	protected.Use(middleware.RateLimit(100, time.Minute))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/contracts", contractHandler.Create)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/stats", contractHandler.Stats)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.PUT("/contracts/:id", contractHandler.Update)
		protected.DELETE("/contracts/:id", contractHandler.Delete)
		protected.POST("/contracts/:id/submit", contractHandler.Submit)
		protected.POST("/contracts/:id/cancel", contractHandler.Cancel)
		protected.POST("/contracts/:id/verify", contractHandler.VerifyTransaction)
		protected.POST("/contracts/:id/attachments", contractHandler.Upload)
		protected.GET("/contracts/:id/attachments/:filename", contractHandler.DownloadURL)

		// Manager-only transitions
		managed := protected.Group("/")
		managed.Use(middleware.RequireManager())
		{
			managed.POST("/contracts/:id/approve", contractHandler.Approve)
			managed.POST("/contracts/:id/reject", contractHandler.Reject)
			managed.POST("/contracts/:id/activate", contractHandler.Activate)
			managed.POST("/contracts/:id/complete", contractHandler.Complete)
			managed.GET("/audit", auditHandler.List)
		}
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
