package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/LJTian/NewsHub/internal/pipeline"
)

// ErrRunInProgress 表示已有一轮采集正在执行
var ErrRunInProgress = errors.New("scheduler: run already in progress")

// Runner 执行一轮采集
type Runner interface {
	RunWithID(ctx context.Context, runID string) pipeline.Report
}

// ReportCache 保存最近一次运行报告，可以为 nil
type ReportCache interface {
	SaveReport(ctx context.Context, report any)
	LastReport(ctx context.Context, out any) bool
}

// Scheduler 按 cron 周期触发采集，同一时间只允许一轮运行
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cache   ReportCache
	logger  *slog.Logger
	running atomic.Bool

	mu   sync.Mutex
	last *pipeline.Report

	// StartupDelay 为首轮采集的延迟，0 表示不在启动时采集
	StartupDelay time.Duration
}

func New(spec string, runner Runner, cache ReportCache, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:         cron.New(),
		runner:       runner,
		cache:        cache,
		logger:       logger,
		StartupDelay: 15 * time.Second,
	}

	_, err := s.cron.AddFunc(spec, s.runScheduled)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	if s.StartupDelay > 0 {
		// 延迟执行首轮采集，避免和服务启动争抢资源
		time.AfterFunc(s.StartupDelay, s.runScheduled)
	}
}

// Stop 停止调度并等待正在执行的 cron 任务结束
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) runScheduled() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Info("scheduler: skip tick", "reason", err)
	}
}

// RunOnce 同步执行一轮采集；已有运行时返回 ErrRunInProgress
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return pipeline.Report{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx, uuid.NewString()), nil
}

// RunAsync 在后台执行一轮采集并立即返回 runID
func (s *Scheduler) RunAsync() (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}
	runID := uuid.NewString()
	go func() {
		defer s.running.Store(false)
		s.run(context.Background(), runID)
	}()
	return runID, nil
}

// Running 表示当前是否有运行中的采集
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) run(ctx context.Context, runID string) pipeline.Report {
	rep := s.runner.RunWithID(ctx, runID)

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.SaveReport(ctx, rep)
	}
	return rep
}

// Last 返回最近一次运行报告：优先读缓存（多实例共享），其次读本进程内存
func (s *Scheduler) Last(ctx context.Context) (pipeline.Report, bool) {
	if s.cache != nil {
		var rep pipeline.Report
		if s.cache.LastReport(ctx, &rep) {
			return rep, true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return pipeline.Report{}, false
	}
	return *s.last, true
}
