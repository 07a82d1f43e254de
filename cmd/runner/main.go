package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	backtestApp "backtest-core/internal/application/backtest"
	batchApp "backtest-core/internal/application/batch"
	backtestDomain "backtest-core/internal/domain/backtest"
	"backtest-core/internal/infra/memory"
	"backtest-core/internal/infrastructure/checkpoint"
	"backtest-core/internal/infrastructure/config"
	"backtest-core/internal/infrastructure/db"
	"backtest-core/internal/infrastructure/metrics"
	"backtest-core/internal/infrastructure/persistence/postgres"
	"backtest-core/internal/infrastructure/snapshot"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	gridPath := flag.String("grid", "", "path to a param grid JSON file to execute")
	cleanup := flag.Bool("cleanup-orphans", false, "remove snapshots unreferenced by any stored run result")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("CRITICAL: load config failed: %v", err)
	}
	log.Printf("configuration loaded (storage_root=%s workers=%d)", cfg.Storage.Root, cfg.Batch.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Printf("testing database connection...")
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		log.Printf("warning: database connection failed, falling back to in-memory store: %v", err)
	} else if pool == nil {
		log.Printf("no DB_DSN provided; running with in-memory store only")
	} else {
		defer pool.Close()
		log.Printf("database connected successfully")
	}

	snapshots, err := snapshot.NewRegistry(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("CRITICAL: init snapshot registry: %v", err)
	}
	checkpoints, err := checkpoint.NewStore(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("CRITICAL: init checkpoint store: %v", err)
	}

	var (
		batchRepo batchApp.Repository
		provider  backtestApp.DataProvider
		results   interface {
			batchApp.ResultStore
			ReferencedSnapshots(ctx context.Context) (map[string]bool, error)
		}
	)
	if pool != nil {
		batchRepo = postgres.NewBatchRepo(pool)
		results = postgres.NewRunResultRepo(pool)
		provider = postgres.NewMarketDataRepo(pool)
	} else {
		store := memory.NewStore()
		batchRepo = store
		results = store
		provider = store
	}

	strategies := backtestApp.NewStrategyRegistry()
	backtestApp.RegisterBuiltins(strategies)

	adapter := backtestApp.NewNativeAdapter(strategies, snapshots, provider).WithCheckpoints(checkpoints)
	service := batchApp.NewService(batchRepo, adapter, results, batchApp.Config{
		Workers:     cfg.Batch.Workers,
		MaxAttempts: cfg.Batch.MaxAttempts,
		Backoff:     cfg.Batch.Backoff,
	})

	go func() {
		log.Printf("metrics listening on %s", cfg.Metrics.Addr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			log.Printf("warning: metrics server stopped: %v", err)
		}
	}()

	if *cleanup {
		refs, err := results.ReferencedSnapshots(context.Background())
		if err != nil {
			log.Fatalf("CRITICAL: collect snapshot references: %v", err)
		}
		removed, err := snapshots.CleanupOrphans(refs)
		if err != nil {
			log.Fatalf("CRITICAL: cleanup orphans: %v", err)
		}
		log.Printf("orphan cleanup done, removed=%d", len(removed))
		return
	}

	if *gridPath == "" {
		log.Printf("no -grid provided; nothing to execute")
		return
	}

	grid, err := loadGrid(*gridPath, cfg)
	if err != nil {
		log.Fatalf("CRITICAL: load grid: %v", err)
	}
	log.Printf("executing grid %q with %d sets", grid.Name, len(grid.Sets))

	run, err := service.Run(context.Background(), grid)
	if err != nil {
		log.Fatalf("CRITICAL: batch run failed: %v", err)
	}
	log.Printf("batch %s status=%s success_rate=%.2f duration=%s", run.ID, run.Status, run.SuccessRate(), run.Duration)
	for category, count := range run.ErrorSummary() {
		log.Printf("  %s: %d", category, count)
	}
}

// loadGrid 讀取參數網格並套用組態預設值。
func loadGrid(path string, cfg config.Config) (backtestDomain.ParamGrid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return backtestDomain.ParamGrid{}, err
	}
	var grid backtestDomain.ParamGrid
	if err := json.Unmarshal(data, &grid); err != nil {
		return backtestDomain.ParamGrid{}, err
	}
	for i := range grid.Sets {
		req := &grid.Sets[i].Request
		if req.LatencyProfile == "" {
			req.LatencyProfile = cfg.Execution.DefaultLatencyProfile
		}
		if req.InitialCash == 0 {
			req.InitialCash = cfg.Execution.DefaultInitialCash
		}
	}
	if err := grid.Validate(); err != nil {
		return backtestDomain.ParamGrid{}, err
	}
	return grid, nil
}
