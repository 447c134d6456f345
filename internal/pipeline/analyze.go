package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/LJTian/NewsHub/internal/processor"
)

// Analysis 是对已入库数据的只读去重分析结果
type Analysis struct {
	Scanned         int              `json:"scanned"`
	ExactDuplicates int              `json:"exactDuplicates"`
	FuzzyDuplicates int              `json:"fuzzyDuplicates"`
	Groups          []DuplicateGroup `json:"groups"`
}

// DuplicateGroup 列出被保留的条目以及当前策略会去掉的同组条目
type DuplicateGroup struct {
	Key     string   `json:"key"`
	Kept    string   `json:"kept"`
	Dropped []string `json:"dropped"`
}

// AnalyzeDuplicates 用当前去重策略重放一批已存储条目，统计会被去掉的数量，不做任何删除。
// 条目按发布时间升序重放，最早出现者保留；maxGroups 限制返回的分组样例数。
func AnalyzeDuplicates(ctx context.Context, items []processor.NewsItem, window time.Duration, maxGroups int) (Analysis, error) {
	sorted := make([]processor.NewsItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PublishedAt.Before(sorted[j].PublishedAt) })

	kept, stats, err := processor.Deduplicate(ctx, sorted, nil, window)
	if err != nil {
		return Analysis{}, err
	}
	a := Analysis{Scanned: len(items), ExactDuplicates: stats.Exact, FuzzyDuplicates: stats.Fuzzy}

	keptIDs := make(map[string]bool, len(kept))
	keptByURL := make(map[string]processor.NewsItem, len(kept))
	keptByKey := make(map[string]processor.NewsItem, len(kept))
	for _, it := range kept {
		keptIDs[it.UniqueID] = true
		if it.CanonicalURL != "" {
			keptByURL[it.CanonicalURL] = it
		}
		if k := groupKey(it); k != "" {
			if _, ok := keptByKey[k]; !ok {
				keptByKey[k] = it
			}
		}
	}

	groups := map[string]*DuplicateGroup{}
	var order []string
	for _, it := range sorted {
		if keptIDs[it.UniqueID] {
			continue
		}
		key, owner := it.CanonicalURL, processor.NewsItem{}
		if o, ok := keptByURL[key]; ok && key != "" {
			owner = o
		} else {
			key = groupKey(it)
			owner = keptByKey[key]
		}
		g, ok := groups[key]
		if !ok {
			g = &DuplicateGroup{Key: key, Kept: owner.Title}
			groups[key] = g
			order = append(order, key)
		}
		g.Dropped = append(g.Dropped, it.Title)
	}

	for _, k := range order {
		if maxGroups > 0 && len(a.Groups) >= maxGroups {
			break
		}
		a.Groups = append(a.Groups, *groups[k])
	}
	return a, nil
}

func groupKey(it processor.NewsItem) string {
	if it.NormalizedTitle != "" {
		return it.NormalizedTitle
	}
	return processor.TitleKey(it.Title, it.Source)
}
