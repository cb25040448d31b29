package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"streamlytics/internal/analysis"
	"streamlytics/internal/cluster"
	"streamlytics/internal/config"
	"streamlytics/internal/dataset"
	"streamlytics/internal/exporter"
	"streamlytics/internal/infrastructure"
	"streamlytics/internal/mixedmodel"
)

func main() {
	dataDir := flag.String("data", "", "directory containing the input datasets (overrides config)")
	outDir := flag.String("out", "", "output directory for result tables (overrides config)")
	cutoff := flag.String("cutoff", "", "baseline cutoff month YYYY-MM (overrides config)")
	seed := flag.Int64("seed", -1, "clustering seed (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}
	if *outDir != "" {
		cfg.Paths.ReportsDir = *outDir
	}
	if *cutoff != "" {
		cfg.Analysis.BaselineCutoff = *cutoff
	}
	if *seed >= 0 {
		cfg.Analysis.ClusterSeed = *seed
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	if err := run(cfg, logger); err != nil {
		logger.Error("Analysis run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := infrastructure.WithRunID(context.Background(), infrastructure.GenerateRunID())

	logger.Info("Loading datasets", "data_dir", cfg.Paths.DataDir)
	global, err := dataset.LoadGlobalPanel(cfg.GlobalPath())
	if err != nil {
		return fmt.Errorf("load global panel: %w", err)
	}
	categories, err := dataset.LoadCategoryPanel(cfg.CategoryPath())
	if err != nil {
		return fmt.Errorf("load category panel: %w", err)
	}
	streamers, err := dataset.LoadStreamerProfiles(cfg.StreamersPath())
	if err != nil {
		return fmt.Errorf("load streamer snapshot: %w", err)
	}
	logger.Info("Datasets loaded",
		"global_months", len(global),
		"category_rows", len(categories),
		"streamers", len(streamers),
	)

	runCfg, err := analysisConfig(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := analysis.Run(ctx, global, categories, streamers, runCfg, logger)
	if err != nil {
		return err
	}

	if err := exporter.ExportReport(report, cfg.Paths.ReportsDir); err != nil {
		return fmt.Errorf("export report: %w", err)
	}

	logger.Info("Report written",
		"run_id", report.RunID,
		"out_dir", cfg.Paths.ReportsDir,
		"duration", time.Since(start),
	)
	return nil
}

func analysisConfig(cfg *config.Config) (analysis.Config, error) {
	runCfg := analysis.DefaultConfig()

	cutoff, err := cfg.Analysis.ParseCutoff()
	if err != nil {
		return runCfg, err
	}
	events, err := cfg.Analysis.ParseEventDates()
	if err != nil {
		return runCfg, err
	}

	runCfg.BaselineCutoff = cutoff
	runCfg.EventDates = events
	runCfg.Mixed = mixedmodel.Options{
		MaxIter:  cfg.Analysis.MixedMaxIter,
		Tol:      cfg.Analysis.MixedTol,
		ThetaMax: mixedmodel.DefaultOptions().ThetaMax,
	}
	runCfg.Cluster = cluster.Config{
		KMin:     cfg.Analysis.ClusterKMin,
		KMax:     cfg.Analysis.ClusterKMax,
		Restarts: cfg.Analysis.ClusterRestarts,
		Seed:     cfg.Analysis.ClusterSeed,
	}
	return runCfg, nil
}
