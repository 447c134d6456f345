package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// APISource 标识产出条目的适配器，写入存储层的 api_source 字段
type APISource string

const (
	APIAlphaVantage  APISource = "alpha_vantage"
	APINewsAPI       APISource = "newsapi"
	APISearx         APISource = "searx"
	APICryptoCompare APISource = "cryptocompare"
	APIRSS           APISource = "rss"
	APIHackerNews    APISource = "hackernews"
	APIReddit        APISource = "reddit"
	APIFinviz        APISource = "finviz"
)

// DateFamily 描述源站时间字段的格式家族，Normalizer 据此选择解析方式
type DateFamily int

const (
	DateUnknown DateFamily = iota
	// DateText 常见文本格式：RFC3339 / RFC1123 / RFC822 / "2006-01-02 15:04:05" 等
	DateText
	// DateAlphaVantage 形如 20240102T150405
	DateAlphaVantage
	// DateUnix 秒级时间戳
	DateUnix
	// DateFinviz 形如 Jan-02-06 03:04PM（美东时间）
	DateFinviz
)

// Published 是源站原样的发布时间
type Published struct {
	Raw    string
	Unix   int64
	Family DateFamily
}

// RawFields 是各源 RawItem 的公共视图
type RawFields struct {
	Title     string
	Summary   string
	URL       string
	Source    string
	Category  string
	Topic     string
	Published Published
	Relevance float64
	Extra     map[string]any
}

// RawItem 是采集后、规范化前的单条数据。每个源家族有自己的强类型实现。
type RawItem interface {
	APISource() APISource
	Fields() RawFields
}

// Adapter 抽象每一个数据源。配置保存在适配器自身，FetchBatch 不向外抛 panic，
// 内部失败统一以 SourceError 返回；返回 0 条不算错误。
type Adapter interface {
	Name() string
	FetchBatch(ctx context.Context) ([]RawItem, *SourceError)
}

// ErrSourceUnavailable 用于 errors.Is 判断整源不可用
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceError 表示某个数据源整体失败
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Source, ErrSourceUnavailable, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

func sourceErr(name string, err error) *SourceError {
	return &SourceError{Source: name, Err: err}
}

// SafeFetch 调用适配器并把 panic 转为 SourceError，保证一个源的异常不会波及其它源
func SafeFetch(ctx context.Context, a Adapter) (items []RawItem, serr *SourceError) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			serr = sourceErr(a.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	return a.FetchBatch(ctx)
}

// pause 是适配器内部多次调用之间的限速等待，ctx 取消时提前返回
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callTally 统计适配器内部多次调用的成败：只有全部失败时整个源才算不可用
type callTally struct {
	calls    int
	failures int
	lastErr  error
}

func (t *callTally) ok() { t.calls++ }

func (t *callTally) fail(log *slog.Logger, source, target string, err error) {
	t.calls++
	t.failures++
	t.lastErr = err
	log.Warn("collector: call failed", "source", source, "target", target, "err", err)
}

func (t *callTally) result(source string) *SourceError {
	if t.calls > 0 && t.failures == t.calls {
		return sourceErr(source, fmt.Errorf("all %d calls failed, last: %w", t.calls, t.lastErr))
	}
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
