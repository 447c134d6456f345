package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/enricher"
	"github.com/LJTian/NewsHub/internal/processor"
	"github.com/LJTian/NewsHub/internal/storage"
)

const (
	DefaultSourceTimeout = 2 * time.Minute
	DefaultRunTimeout    = 10 * time.Minute
)

// Enricher 是编排器对情感增强的依赖
type Enricher interface {
	EnrichAll(ctx context.Context, items []processor.NewsItem, workers int) ([]processor.NewsItem, enricher.Stats)
}

// Store 是编排器对存储层的最小依赖
type Store interface {
	processor.StoreQuery
	Upsert(ctx context.Context, item processor.NewsItem) (storage.UpsertResult, error)
	EmergencyInsert(ctx context.Context, item processor.NewsItem) error
}

type Options struct {
	SourceTimeout time.Duration
	RunTimeout    time.Duration
	DedupWindow   time.Duration
	EnrichWorkers int
}

func (o Options) withDefaults() Options {
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = DefaultSourceTimeout
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = processor.DefaultDedupWindow
	}
	if o.EnrichWorkers <= 0 {
		o.EnrichWorkers = enricher.DefaultWorkers
	}
	return o
}

// Orchestrator 串起 抓取 → 规范化 → 去重 → 增强 → 入库。
// Run 从不返回错误，所有失败都记录在 Report 中。
type Orchestrator struct {
	adapters   []collector.Adapter
	normalizer *processor.Normalizer
	enricher   Enricher
	store      Store
	metrics    *Metrics
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New 创建编排器。enricher 为 nil 时跳过增强，条目以中性默认值入库。
func New(adapters []collector.Adapter, enr Enricher, store Store, metrics *Metrics, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		adapters:   adapters,
		normalizer: processor.NewNormalizer(logger),
		enricher:   enr,
		store:      store,
		metrics:    metrics,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

func (o *Orchestrator) Run(ctx context.Context) Report {
	return o.RunWithID(ctx, uuid.NewString())
}

// RunWithID 执行一轮完整采集，runID 由调用方给出，便于异步触发时提前返回
func (o *Orchestrator) RunWithID(ctx context.Context, runID string) Report {
	rep := Report{RunID: runID, StartedAt: o.now().UTC()}
	log := o.logger.With("run_id", runID)
	log.Info("pipeline: run started", "sources", len(o.adapters))

	// 运行截止时间约束抓取、去重与增强；入库使用调用方 ctx，已经抓到的条目不会因超时丢失
	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	raws := o.fetchAll(runCtx, &rep)
	rep.Fetched = len(raws)

	items, malformed := o.normalizer.NormalizeAll(raws, o.now().UTC())
	rep.Malformed = malformed

	kept, stats, err := processor.Deduplicate(runCtx, items, o.store, o.opts.DedupWindow)
	if err != nil {
		rep.Degraded = true
		rep.DegradedReason = err.Error()
		log.Warn("pipeline: dedup degraded to batch only", "err", err)
	}
	rep.DedupDropped = DedupCounts{Exact: stats.Exact, Fuzzy: stats.Fuzzy}

	if o.enricher != nil && len(kept) > 0 {
		var est enricher.Stats
		kept, est = o.enricher.EnrichAll(runCtx, kept, o.opts.EnrichWorkers)
		rep.Enriched, rep.EnrichFailed = est.Enriched, est.Failed
	}

	o.persist(ctx, kept, &rep, log)

	rep.FinishedAt = o.now().UTC()
	o.metrics.Observe(rep)
	log.Info("pipeline: run finished",
		"fetched", rep.Fetched,
		"malformed", rep.Malformed,
		"dedup_exact", rep.DedupDropped.Exact,
		"dedup_fuzzy", rep.DedupDropped.Fuzzy,
		"enriched", rep.Enriched,
		"stored", rep.Stored,
		"emergency", rep.StoredEmergency,
		"lost", rep.Lost,
		"elapsed", rep.FinishedAt.Sub(rep.StartedAt),
	)
	return rep
}

type sourceResult struct {
	items    []collector.RawItem
	err      *collector.SourceError
	timedOut bool
}

// fetchAll 并发调用所有适配器，结果按注册顺序合并
func (o *Orchestrator) fetchAll(ctx context.Context, rep *Report) []collector.RawItem {
	results := make([]sourceResult, len(o.adapters))

	var wg sync.WaitGroup
	for i, a := range o.adapters {
		wg.Add(1)
		go func(i int, a collector.Adapter) {
			defer wg.Done()
			results[i] = o.fetchOne(ctx, a)
		}(i, a)
	}
	wg.Wait()

	var merged []collector.RawItem
	rep.Sources = make([]SourceReport, 0, len(o.adapters))
	for i, a := range o.adapters {
		r := results[i]
		sr := SourceReport{Source: a.Name(), Fetched: len(r.items), TimedOut: r.timedOut}
		if r.err != nil {
			sr.Error = r.err.Error()
			o.logger.Warn("pipeline: source failed", "source", a.Name(), "timed_out", r.timedOut, "err", r.err)
		} else {
			o.logger.Info("pipeline: source done", "source", a.Name(), "count", len(r.items))
		}
		rep.Sources = append(rep.Sources, sr)
		merged = append(merged, r.items...)
	}
	return merged
}

// fetchOne 在独立截止时间内调用一个适配器；超时的适配器贡献 0 条并记错误
func (o *Orchestrator) fetchOne(ctx context.Context, a collector.Adapter) sourceResult {
	sctx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	defer cancel()

	done := make(chan sourceResult, 1)
	go func() {
		items, serr := collector.SafeFetch(sctx, a)
		done <- sourceResult{items: items, err: serr}
	}()

	select {
	case r := <-done:
		if sctx.Err() == nil {
			return r
		}
	case <-sctx.Done():
	}
	err := sctx.Err()
	return sourceResult{
		err:      &collector.SourceError{Source: a.Name(), Err: err},
		timedOut: errors.Is(err, context.DeadlineExceeded),
	}
}

// persist 逐条入库；普通写入失败时走应急表，应急表也失败才计为 lost
func (o *Orchestrator) persist(ctx context.Context, items []processor.NewsItem, rep *Report, log *slog.Logger) {
	for _, it := range items {
		res, err := o.store.Upsert(ctx, it)
		if err == nil {
			switch res {
			case storage.Stored:
				rep.Stored++
			case storage.Duplicate:
				rep.StoredDuplicate++
			case storage.URLConflict:
				rep.URLConflicts++
			}
			continue
		}

		log.Warn("pipeline: upsert failed, using emergency insert", "unique_id", it.UniqueID, "err", err)
		if eerr := o.store.EmergencyInsert(ctx, it); eerr != nil {
			rep.Lost++
			log.Error("pipeline: item lost", "unique_id", it.UniqueID, "title", it.Title, "err", eerr)
			continue
		}
		rep.StoredEmergency++
	}
}
