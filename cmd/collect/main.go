package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/config"
	"github.com/LJTian/NewsHub/internal/enricher"
	"github.com/LJTian/NewsHub/internal/logging"
	"github.com/LJTian/NewsHub/internal/pipeline"
	"github.com/LJTian/NewsHub/internal/storage"
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集，运行报告以 JSON 输出到 stdout
func main() {
	noEnrich := flag.Bool("no-enrich", false, "skip sentiment enrichment")
	flag.Parse()

	cfg := config.Load()
	// 日志走 stderr，stdout 只留给报告
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)
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

	var enr pipeline.Enricher
	if !*noEnrich {
		classifier := enricher.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.EnrichTimeout)
		enr = enricher.New(classifier, cfg.EnrichTimeout, logger)
	}

	orch := pipeline.New(pipeline.BuildAdapters(cfg.Sources, client, logger), enr, store, nil, pipeline.Options{
		SourceTimeout: cfg.SourceTimeout,
		RunTimeout:    cfg.RunTimeout,
		DedupWindow:   cfg.DedupWindow,
		EnrichWorkers: cfg.EnrichWorkers,
	}, logger)

	// 只执行一轮采集任务后退出
	rep := orch.Run(ctx)
	cache.SaveReport(ctx, rep)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("encode report failed", "err", err)
		os.Exit(1)
	}
}
