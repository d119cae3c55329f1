package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/api/handlers"
	"github.com/plantpal/backend/internal/assistant"
	"github.com/plantpal/backend/internal/blob"
	"github.com/plantpal/backend/internal/identify"
	"github.com/plantpal/backend/internal/llm"
	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/internal/middleware/ratelimit"
	"github.com/plantpal/backend/internal/middleware/security"
	"github.com/plantpal/backend/internal/middleware/validation"
	"github.com/plantpal/backend/internal/quota"
	"github.com/plantpal/backend/internal/storage/sqlite"
	"github.com/plantpal/backend/internal/vision"
	"github.com/plantpal/backend/pkg/config"
	appLogger "github.com/plantpal/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PlantPal API Server")
	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	blobs, err := blob.NewS3Store(context.Background(), blob.Config{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
	})
	if err != nil {
		appLogger.Fatal("Failed to create S3 store", zap.Error(err))
	}

	recognizer := vision.NewClient(
		cfg.Vision.Endpoint,
		cfg.Vision.APIKey,
		time.Duration(cfg.Vision.TimeoutSec)*time.Second,
	)

	identifier := identify.NewOrchestrator(
		blobs,
		recognizer,
		db,
		cfg.Vision.MinConfidence,
		cfg.Vision.MaxCandidates,
	)

	llmClient := llm.NewClient(
		cfg.Assistant.APIKey,
		cfg.Assistant.Model,
		cfg.Assistant.Temperature,
		cfg.Assistant.MaxTokens,
		time.Duration(cfg.Assistant.TimeoutSec)*time.Second,
	)

	// The quota counters live in redis when it is configured, so several
	// API processes can share one budget; otherwise the SQLite store
	// keeps reservations atomic for a single node.
	var counters quota.CounterStore = db
	if cfg.Redis.Enabled {
		redisStore, err := quota.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create redis counter store", zap.Error(err))
		}
		defer redisStore.Close()
		counters = redisStore
	}

	enforcer := quota.NewEnforcer(counters, quota.Limits{
		PerMinute:   cfg.Quota.PerMinute,
		UserDaily:   cfg.Quota.UserDaily,
		GlobalDaily: cfg.Quota.GlobalDaily,
	})

	cache := assistant.NewResponseCache(
		db,
		time.Duration(cfg.Assistant.CacheTTLHrs)*time.Hour,
		cfg.Assistant.CostPerCall,
	)

	chat := assistant.NewOrchestrator(cache, enforcer, llmClient, db, cfg.Assistant.MaxTurns)

	pruneDone := make(chan struct{})
	go pruneCounters(db, pruneDone)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	identifyHandler := handlers.NewIdentifyHandler(identifier, db)
	chatHandler := handlers.NewChatHandler(chat)

	api := app.Group("/api/v1")

	api.Post("/identify", identifyHandler.HandleIdentify)
	api.Get("/identifications", identifyHandler.ListIdentifications)
	api.Get("/identifications/:id", identifyHandler.GetIdentification)
	api.Post("/identifications/:id/confirm", identifyHandler.ConfirmSpecies)

	api.Post("/chat", chatHandler.HandleChat)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	close(pruneDone)
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// pruneCounters keeps the quota counter table from growing; counters reset
// by key rotation, so this is housekeeping only.
func pruneCounters(db *sqlite.Client, done <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := db.PruneExpiredCounters(context.Background()); err != nil {
				appLogger.Warn("Failed to prune quota counters", zap.Error(err))
			}
		}
	}
}
