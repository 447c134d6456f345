package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/LJTian/NewsHub/internal/config"
	"github.com/LJTian/NewsHub/internal/logging"
	"github.com/LJTian/NewsHub/internal/pipeline"
	"github.com/LJTian/NewsHub/internal/processor"
	"github.com/LJTian/NewsHub/internal/storage"
)

// 只读的重复分析：用当前去重策略重放最近入库的条目，统计会被去掉的数量，不删除任何数据
func main() {
	limit := flag.Int("limit", 1000, "number of most recent items to analyze (max 1000)")
	category := flag.String("category", "", "only analyze one category")
	groups := flag.Int("groups", 20, "max duplicate groups to print")
	flag.Parse()

	cfg := config.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)

	ctx := context.Background()
	// 分析直接读库，不经过 Redis 缓存
	store, _, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.StoreDriver,
		PostgresDSN: cfg.PostgresDSN,
		MongoURI:    cfg.MongoURI,
		MongoDB:     cfg.MongoDB,
	}, logger)
	if err != nil {
		logger.Error("init store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close(ctx)

	news, err := store.ListNews(ctx, storage.ListQuery{Category: *category, Limit: *limit})
	if err != nil {
		logger.Error("list news failed", "err", err)
		os.Exit(1)
	}
	items := make([]processor.NewsItem, 0, len(news))
	for _, n := range news {
		items = append(items, n.Item())
	}

	analysis, err := pipeline.AnalyzeDuplicates(ctx, items, cfg.DedupWindow, *groups)
	if err != nil {
		logger.Error("analyze failed", "err", err)
		os.Exit(1)
	}
	logger.Info("dedup: analysis done", "scanned", analysis.Scanned, "exact", analysis.ExactDuplicates, "fuzzy", analysis.FuzzyDuplicates)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(analysis); err != nil {
		logger.Error("encode analysis failed", "err", err)
		os.Exit(1)
	}
}
