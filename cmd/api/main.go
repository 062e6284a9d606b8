package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/analysis"
	"github.com/legisync/backend/internal/api/handlers"
	"github.com/legisync/backend/internal/cache/redis"
	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/internal/middleware/ratelimit"
	"github.com/legisync/backend/internal/middleware/security"
	"github.com/legisync/backend/internal/storage/sqlite"
	syncer "github.com/legisync/backend/internal/sync"
	"github.com/legisync/backend/pkg/config"
	appLogger "github.com/legisync/backend/pkg/logger"
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

	metrics.Init()

	appLogger.Info("Starting LegiSync API Server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	source := legis.NewClient(
		cfg.Source.Name,
		cfg.Source.BaseURL,
		cfg.Source.APIKey,
		cfg.Source.RequestsPerSecond,
		cfg.Source.TimeoutSec,
	)

	var cache analysis.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTLHours)
		if err != nil {
			appLogger.Warn("Redis unavailable, analysis cache disabled", zap.Error(err))
		} else {
			cache = redisClient
		}
	}

	analyzerClient := analysis.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
		cfg.LLM.RequestsPerSecond,
	)
	analyzer := analysis.NewOrchestrator(sqliteClient, analyzerClient, cache)

	var dedicated syncer.AmendmentStore
	if cfg.Sync.DedicatedAmendments {
		dedicated = sqliteClient
	}
	tracker := syncer.NewAmendmentTracker(dedicated, sqliteClient)
	orchestrator := syncer.NewOrchestrator(source, cfg.Source.Name, sqliteClient, tracker, analyzer, cfg.Source.Jurisdictions)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	reanalyzeLimiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 10, Burst: 3})
	defer reanalyzeLimiter.Stop()

	runsHandler := handlers.NewRunsHandler(sqliteClient)
	billsHandler := handlers.NewBillsHandler(sqliteClient, orchestrator)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Get("/runs", runsHandler.ListRuns)
	api.Get("/runs/:id", runsHandler.GetRun)

	api.Get("/bills/:id", billsHandler.GetBill)
	api.Get("/bills/:id/analysis", billsHandler.GetAnalysis)
	api.Post("/bills/:id/reanalyze", reanalyzeLimiter.Middleware(), billsHandler.Reanalyze)

	api.Get("/health", func(c *fiber.Ctx) error {
		if err := sqliteClient.Healthy(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/runs/live", websocket.New(wsHandler.HandleConnection))

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

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}

	appLogger.Info("Server stopped")
}
