package enricher

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LJTian/NewsHub/internal/processor"
)

const (
	DefaultTimeout = 120 * time.Second
	DefaultWorkers = 4
)

// 标签到分数的固定映射
var labelScores = map[processor.SentimentLabel]float64{
	processor.SentimentPositive: 0.8,
	processor.SentimentNegative: -0.8,
	processor.SentimentNeutral:  0,
}

// Score 返回情感标签对应的分数
func Score(label processor.SentimentLabel) float64 {
	return labelScores[label]
}

// Stats 是一批数据的富化结果计数
type Stats struct {
	Enriched int
	Failed   int
}

// Enricher 为新闻补充情感分析结果。富化只做加法，任何失败都不会阻塞流水线。
type Enricher struct {
	classifier Classifier
	timeout    time.Duration
	logger     *slog.Logger
}

// New 创建 Enricher；classifier 为 nil 时所有条目都按未处理返回
func New(classifier Classifier, timeout time.Duration, logger *slog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{classifier: classifier, timeout: timeout, logger: logger}
}

// Enrich 返回富化后的新值，不修改入参。
func (e *Enricher) Enrich(ctx context.Context, item processor.NewsItem) processor.NewsItem {
	out := item
	out.AIProcessed = false
	out.SentimentLabel = processor.SentimentNeutral
	out.SentimentScore = 0
	out.SentimentConfidence = 0
	out.SentimentReasoning = ""

	if e.classifier == nil {
		return out
	}
	text := strings.TrimSpace(item.Summary)
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	if text == "" {
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.classifier.Classify(callCtx, text)
	if err != nil {
		e.logger.Warn("enricher: classify failed", "unique_id", item.UniqueID, "title", item.Title, "err", err)
		return out
	}

	v := ParseVerdict(reply)
	out.AIProcessed = true
	out.SentimentLabel = v.Label
	out.SentimentScore = Score(v.Label)
	out.SentimentConfidence = v.Confidence
	out.SentimentReasoning = v.Reasoning
	return out
}

// EnrichAll 以有界并发富化整批数据，保持输入顺序
func (e *Enricher) EnrichAll(ctx context.Context, items []processor.NewsItem, workers int) ([]processor.NewsItem, Stats) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	out := make([]processor.NewsItem, len(items))

	var enriched int64
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range items {
		i := i
		g.Go(func() error {
			out[i] = e.Enrich(ctx, items[i])
			if out[i].AIProcessed {
				atomic.AddInt64(&enriched, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(enriched)
	return out, Stats{Enriched: n, Failed: len(items) - n}
}
