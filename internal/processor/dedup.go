package processor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDedupWindow 是模糊去重的时间窗口
const DefaultDedupWindow = 48 * time.Hour

// ErrDedupUnavailable 表示无法查询已存储的数据，本次只做了批内去重
var ErrDedupUnavailable = errors.New("dedup against store unavailable")

// DedupUnavailableError 携带导致降级的底层错误
type DedupUnavailableError struct {
	Err error
}

func (e *DedupUnavailableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDedupUnavailable, e.Err)
}

func (e *DedupUnavailableError) Unwrap() error { return e.Err }

func (e *DedupUnavailableError) Is(target error) bool { return target == ErrDedupUnavailable }

// TitleStamp 是已存储条目的标题键与发布时间
type TitleStamp struct {
	Key         string
	PublishedAt time.Time
}

// StoreQuery 是去重需要的只读查询
type StoreQuery interface {
	// ExistingCanonicalURLs 返回 urls 中已经存在的规范化 URL
	ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error)
	// TitleStamps 返回标题键属于 keys 且发布时间在 [from, to] 内的已存储条目
	TitleStamps(ctx context.Context, keys []string, from, to time.Time) ([]TitleStamp, error)
}

// DedupStats 记录两个阶段各丢弃了多少条
type DedupStats struct {
	Exact int
	Fuzzy int
}

func (s DedupStats) Dropped() int { return s.Exact + s.Fuzzy }

// Deduplicate 分两阶段去重，保持输入顺序，先出现者保留：
//  1. 规范化 URL 与已存储数据或批内更早条目相同则丢弃；
//  2. 标题键相同且发布时间相差不超过 window 则丢弃，只与已存储数据和批内已保留的条目比较。
//
// existing 为 nil 或查询失败时只做批内去重；查询失败时同时返回 *DedupUnavailableError。
func Deduplicate(ctx context.Context, batch []NewsItem, existing StoreQuery, window time.Duration) ([]NewsItem, DedupStats, error) {
	var stats DedupStats
	if len(batch) == 0 {
		return []NewsItem{}, stats, nil
	}
	if window < 0 {
		window = 0
	}

	storedURLs, storedTitles, lookupErr := lookupExisting(ctx, batch, existing, window)

	// 阶段一：规范化 URL
	seenURL := make(map[string]bool, len(batch))
	exact := make([]NewsItem, 0, len(batch))
	for _, it := range batch {
		if u := it.CanonicalURL; u != "" {
			if storedURLs[u] || seenURL[u] {
				stats.Exact++
				continue
			}
			seenURL[u] = true
		}
		exact = append(exact, it)
	}

	// 阶段二：标题键 + 时间窗口
	kept := make(map[string][]time.Time, len(exact))
	out := make([]NewsItem, 0, len(exact))
	for _, it := range exact {
		key := titleKeyOf(it)
		if key == "" {
			out = append(out, it)
			continue
		}
		if withinWindow(storedTitles[key], it.PublishedAt, window) || withinWindow(kept[key], it.PublishedAt, window) {
			stats.Fuzzy++
			continue
		}
		kept[key] = append(kept[key], it.PublishedAt)
		out = append(out, it)
	}

	if lookupErr != nil {
		return out, stats, &DedupUnavailableError{Err: lookupErr}
	}
	return out, stats, nil
}

func titleKeyOf(it NewsItem) string {
	if it.NormalizedTitle != "" {
		return it.NormalizedTitle
	}
	return TitleKey(it.Title, it.Source)
}

func withinWindow(stamps []time.Time, t time.Time, window time.Duration) bool {
	for _, s := range stamps {
		d := t.Sub(s)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}

// lookupExisting 一次性查询批次涉及的已存储 URL 与标题；任一查询失败则两者都视为空
func lookupExisting(ctx context.Context, batch []NewsItem, existing StoreQuery, window time.Duration) (map[string]bool, map[string][]time.Time, error) {
	if existing == nil {
		return nil, nil, nil
	}

	urls := make([]string, 0, len(batch))
	keys := make([]string, 0, len(batch))
	seenKey := make(map[string]bool, len(batch))
	var from, to time.Time
	for i, it := range batch {
		if it.CanonicalURL != "" {
			urls = append(urls, it.CanonicalURL)
		}
		if k := titleKeyOf(it); k != "" && !seenKey[k] {
			seenKey[k] = true
			keys = append(keys, k)
		}
		if i == 0 || it.PublishedAt.Before(from) {
			from = it.PublishedAt
		}
		if i == 0 || it.PublishedAt.After(to) {
			to = it.PublishedAt
		}
	}

	var storedURLs map[string]bool
	if len(urls) > 0 {
		got, err := existing.ExistingCanonicalURLs(ctx, urls)
		if err != nil {
			return nil, nil, fmt.Errorf("canonical url lookup: %w", err)
		}
		storedURLs = got
	}

	storedTitles := make(map[string][]time.Time)
	if len(keys) > 0 {
		stamps, err := existing.TitleStamps(ctx, keys, from.Add(-window), to.Add(window))
		if err != nil {
			return nil, nil, fmt.Errorf("title lookup: %w", err)
		}
		for _, s := range stamps {
			storedTitles[s.Key] = append(storedTitles[s.Key], s.PublishedAt)
		}
	}
	return storedURLs, storedTitles, nil
}
