package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsHub/internal/api"
	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/config"
	"github.com/LJTian/NewsHub/internal/enricher"
	"github.com/LJTian/NewsHub/internal/logging"
	"github.com/LJTian/NewsHub/internal/pipeline"
	"github.com/LJTian/NewsHub/internal/scheduler"
	"github.com/LJTian/NewsHub/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()
	store, cache, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.StoreDriver,
		PostgresDSN: cfg.PostgresDSN,
		MongoURI:    cfg.MongoURI,
		MongoDB:     cfg.MongoDB,
		RedisAddr:   cfg.RedisAddr,
	}, logger)
	if err != nil {
		logger.Error("init store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close(ctx)

	client := collector.NewClient(collector.RetryPolicy{
		MaxRetries: cfg.FetchRetries,
		Timeout:    cfg.FetchTimeout,
	})
	adapters := pipeline.BuildAdapters(cfg.Sources, client, logger)
	classifier := enricher.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.EnrichTimeout)
	enr := enricher.New(classifier, cfg.EnrichTimeout, logger)
	metrics := pipeline.NewMetrics()

	orch := pipeline.New(adapters, enr, store, metrics, pipeline.Options{
		SourceTimeout: cfg.SourceTimeout,
		RunTimeout:    cfg.RunTimeout,
		DedupWindow:   cfg.DedupWindow,
		EnrichWorkers: cfg.EnrichWorkers,
	}, logger)

	s, err := scheduler.New(cfg.CronSpec, orch, cache, logger)
	if err != nil {
		logger.Error("init scheduler failed", "err", err)
		os.Exit(1)
	}
	s.Start()
	defer s.Stop(ctx)

	// API
	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health、/metrics 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(store, s, metrics.Handler(), logger)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	logger.Info("starting api server", "addr", addr, "sources", len(adapters), "model", classifier.Model())
	if err := r.Run(addr); err != nil {
		logger.Error("server exit", "err", err)
		os.Exit(1)
	}
}
