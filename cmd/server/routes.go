package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"veritrace-system/config"
	"veritrace-system/internal/database"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/services/attestation"
	"veritrace-system/internal/services/audit"
	batchhandler "veritrace-system/internal/services/batch/handler"
	inventoryhandler "veritrace-system/internal/services/inventory/handler"
	producthandler "veritrace-system/internal/services/product/handler"
	storagehandler "veritrace-system/internal/services/storage/handler"
	tracehandler "veritrace-system/internal/services/traceability/handler"
	userhandler "veritrace-system/internal/services/user/handler"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	cache := config.NewRedisClient(cfg.Redis)

	// In-process stand-ins for the IPFS gateway and chain client.
	docs := attestation.NewMockDocumentStore()
	ledger := attestation.NewMockLedger()

	jwtSecret := []byte(cfg.Auth.JWTSecret)

	auditSvc := audit.NewService(db, logger)
	auditHandler := audit.NewHandler(auditSvc)
	userHandler := userhandler.NewUserHandler(db, auditSvc, logger, jwtSecret, cfg.Auth.TokenTTL)
	productHandler := producthandler.NewProductHandler(db, cache, auditSvc, logger)
	batchHandler := batchhandler.NewBatchHandler(db, ledger, auditSvc, logger, cfg.Attestation.GatewayURL, cfg.Attestation.VerifyBaseURL)
	traceHandler := tracehandler.NewTraceabilityHandler(db, docs, ledger, logger)
	inventoryHandler := inventoryhandler.NewInventoryHandler(db, logger)
	storageHandler := storagehandler.NewStorageHandler(db, docs, ledger, logger, cfg.Attestation.GatewayURL)

	r := gin.Default()
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(middleware.RateLimit("300-M"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", userHandler.PostRegister)
			auth.POST("/register/enterprise", userHandler.PostRegisterEnterprise)
			auth.POST("/login", userHandler.PostLogin)
		}

		// Public verification, reachable from QR codes without a token.
		verify := v1.Group("/verify")
		{
			verify.GET("/:batch_id", storageHandler.GetVerifyBatch)
			verify.POST("/cid", storageHandler.PostVerifyCID)
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.GET("/auth/me", userHandler.GetMe)

			enterprise := protected.Group("/enterprise")
			{
				enterprise.GET("/profile", userHandler.GetProfile)
				enterprise.PUT("/profile", userHandler.PutProfile)
				enterprise.GET("/list", userHandler.GetEnterpriseList)
			}

			products := protected.Group("/products")
			{
				products.POST("/add", productHandler.Add)
				products.GET("", productHandler.List)
				products.GET("/:product_id", productHandler.Get)
				products.PUT("/:product_id", productHandler.Put)
				products.DELETE("/:product_id", productHandler.Delete)
			}

			batches := protected.Group("/batches")
			{
				batches.POST("/create", batchHandler.Create)
				batches.GET("", batchHandler.List)
				batches.GET("/:batch_id", batchHandler.Get)
				batches.PUT("/:batch_id/status", batchHandler.PutStatus)
				batches.PUT("/:batch_id/quantity", batchHandler.PutQuantity)
			}

			trace := protected.Group("/trace")
			{
				trace.POST("/events", traceHandler.Create)
				trace.GET("/events/:event_id", traceHandler.Get)
				trace.GET("/batch/:batch_id", traceHandler.ListBatchEvents)
				trace.GET("/history", traceHandler.GetHistory)
				trace.POST("/upload", traceHandler.Upload)
			}

			inventory := protected.Group("/inventory")
			{
				inventory.PATCH("/update", inventoryHandler.Update)
				inventory.GET("/:product_id", inventoryHandler.Get)
				inventory.GET("/audit/:product_id", inventoryHandler.GetAuditTrail)
			}

			auditGroup := protected.Group("/audit")
			{
				auditGroup.GET("/entity/:entity_type/:entity_id", auditHandler.GetEntityTrail)
				auditGroup.GET("/search", auditHandler.Search)
			}

			storage := protected.Group("/storage")
			{
				storage.POST("/upload", storageHandler.PostUpload)
				storage.GET("/files", storageHandler.GetFiles)
				storage.GET("/files/:file_hash", storageHandler.GetFile)
				storage.DELETE("/files/:file_hash", storageHandler.DeleteFile)
			}
		}
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
