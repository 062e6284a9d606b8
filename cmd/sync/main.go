package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/analysis"
	"github.com/legisync/backend/internal/cache/redis"
	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/internal/storage/sqlite"
	syncer "github.com/legisync/backend/internal/sync"
	"github.com/legisync/backend/pkg/config"
	appLogger "github.com/legisync/backend/pkg/logger"
)

func main() {
	billID := flag.Int64("bill", 0, "re-analyze a single stored bill by id and exit")
	scheduled := flag.Bool("schedule", false, "run on the configured cron schedule instead of once")
	flag.Parse()

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

	appLogger.Info("Starting LegiSync worker",
		zap.String("source", cfg.Source.Name),
		zap.Strings("jurisdictions", cfg.Source.Jurisdictions),
	)

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	orchestrator := buildOrchestrator(cfg, sqliteClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *billID > 0:
		if err := orchestrator.ReanalyzeBill(ctx, *billID); err != nil {
			appLogger.Fatal("Re-analysis failed", zap.Int64("bill_id", *billID), zap.Error(err))
		}
		appLogger.Info("Re-analysis complete", zap.Int64("bill_id", *billID))

	case *scheduled:
		runScheduled(ctx, cfg, orchestrator)

	default:
		if _, err := orchestrator.Run(ctx); err != nil {
			appLogger.Fatal("Sync run failed to start", zap.Error(err))
		}
	}
}

func buildOrchestrator(cfg *config.Config, store *sqlite.Client) *syncer.Orchestrator {
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
	analyzer := analysis.NewOrchestrator(store, analyzerClient, cache)

	var dedicated syncer.AmendmentStore
	if cfg.Sync.DedicatedAmendments {
		dedicated = store
	}
	tracker := syncer.NewAmendmentTracker(dedicated, store)

	return syncer.NewOrchestrator(source, cfg.Source.Name, store, tracker, analyzer, cfg.Source.Jurisdictions)
}

// runScheduled blocks until the context is canceled, firing a run at the
// primary slot and again at the backup slot. Overlapping triggers are
// skipped rather than queued; writes stay single-worker.
func runScheduled(ctx context.Context, cfg *config.Config, orchestrator *syncer.Orchestrator) {
	var running atomic.Bool

	job := func() {
		if !running.CompareAndSwap(false, true) {
			appLogger.Warn("Previous sync run still in progress, skipping trigger")
			return
		}
		defer running.Store(false)

		if _, err := orchestrator.Run(ctx); err != nil {
			appLogger.Error("Scheduled sync run failed to start", zap.Error(err))
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sync.Schedule, job); err != nil {
		appLogger.Fatal("Invalid sync schedule", zap.String("schedule", cfg.Sync.Schedule), zap.Error(err))
	}
	if cfg.Sync.BackupSchedule != "" {
		if _, err := c.AddFunc(cfg.Sync.BackupSchedule, job); err != nil {
			appLogger.Fatal("Invalid backup schedule", zap.String("schedule", cfg.Sync.BackupSchedule), zap.Error(err))
		}
	}

	appLogger.Info("Sync scheduler started",
		zap.String("schedule", cfg.Sync.Schedule),
		zap.String("backup_schedule", cfg.Sync.BackupSchedule),
	)
	c.Start()

	<-ctx.Done()
	appLogger.Info("Shutting down scheduler, letting current bill finish...")

	// Stop returns once scheduled triggers cease; the in-flight run sees
	// the canceled context and finalizes itself as partial.
	<-c.Stop().Done()
}
