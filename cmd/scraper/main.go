package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/api"
	"github.com/AdrianLuk12/sociarch-scraper/internal/browser"
	"github.com/AdrianLuk12/sociarch-scraper/internal/config"
	"github.com/AdrianLuk12/sociarch-scraper/internal/crawler"
	"github.com/AdrianLuk12/sociarch-scraper/internal/dedup"
	"github.com/AdrianLuk12/sociarch-scraper/internal/monitoring"
	"github.com/AdrianLuk12/sociarch-scraper/internal/schedule"
	"github.com/AdrianLuk12/sociarch-scraper/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single batch and exit instead of scheduling")
	force := flag.Bool("force", false, "bypass the recently-scraped guard")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := storage.NewPostgres(ctx, cfg.PostgresURL, cfg.TargetSchema, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()

	var visited crawler.VisitedStore
	rdb := storage.NewRedis(cfg.RedisAddr)
	if err := rdb.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, running without the recently-scraped guard", zap.Error(err))
		rdb = nil
	} else {
		visited = rdb
		defer rdb.Close()
	}

	metrics := monitoring.NewMetrics()

	session := browser.New(browser.Options{
		Headless:    cfg.Headless,
		NoSandbox:   cfg.NoSandbox,
		PageTimeout: cfg.PageTimeout(),
	}, logger)
	if err := session.Start(ctx); err != nil {
		logger.Fatal("failed to start browser session", zap.Error(err))
	}
	defer session.Close()

	manager := crawler.NewManager(session, crawler.Options{
		MaxRestarts:      cfg.MaxRestarts,
		ChallengeReloads: cfg.ChallengeReloads,
	}, metrics, logger)

	var exporter crawler.Exporter
	if cfg.ExportDir != "" {
		csvExporter, err := storage.NewCSVExporter(cfg.ExportDir)
		if err != nil {
			logger.Fatal("failed to create csv exporter", zap.Error(err))
		}
		exporter = csvExporter
	}

	runner := crawler.NewRunner(manager, dedup.New(pg, logger), pg, visited, exporter,
		crawler.RunnerConfig{
			BaseURL:      cfg.BaseURL,
			RequestDelay: cfg.RequestDelay(),
			DedupTTL:     cfg.DedupTTL(),
			ForceRefresh: *force,
		}, metrics, logger)

	if *once {
		summary, err := runner.Run(ctx)
		if err != nil {
			logger.Fatal("batch run failed", zap.Error(err))
		}
		logger.Info("batch run completed",
			zap.String("run_id", summary.RunID),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed))
		if summary.Failed > 0 && summary.Succeeded == 0 && summary.Skipped == 0 {
			os.Exit(1)
		}
		return
	}

	sched, err := schedule.New(runner.Run, cfg.ScheduleHour, cfg.Timezone, logger)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}

	server := api.NewServer(cfg.ServerPort, pg, rdb, sched, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start ops server", zap.Error(err))
		}
	}()
	logger.Info("ops server started", zap.String("port", cfg.ServerPort))

	go sched.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", zap.Error(err))
	}

	logger.Info("scraper exiting")
}
