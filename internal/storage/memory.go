package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LJTian/NewsHub/internal/processor"
)

// MemoryStore 是进程内实现，约束与数据库版本一致，用于本地运行和测试
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]News
	byCanonical map[string]string // canonical_url -> unique_id
	order       []string
	emergency   []EmergencyNews
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]News),
		byCanonical: make(map[string]string),
		now:         time.Now,
	}
}

func (m *MemoryStore) Upsert(_ context.Context, item processor.NewsItem) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec := FromItem(item, now)
	if existing, ok := m.byID[rec.UniqueID]; ok {
		existing.UpdatedAt = now
		m.byID[rec.UniqueID] = existing
		return Duplicate, nil
	}
	if rec.CanonicalURL != "" {
		if _, taken := m.byCanonical[rec.CanonicalURL]; taken {
			return URLConflict, nil
		}
		m.byCanonical[rec.CanonicalURL] = rec.UniqueID
	}
	m.byID[rec.UniqueID] = rec
	m.order = append(m.order, rec.UniqueID)
	return Stored, nil
}

func (m *MemoryStore) EmergencyInsert(_ context.Context, item processor.NewsItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := emergencyFromItem(item, m.now())
	rec.ID = uint(len(m.emergency) + 1)
	m.emergency = append(m.emergency, rec)
	return nil
}

// Emergency 返回应急路径写入的记录副本
func (m *MemoryStore) Emergency() []EmergencyNews {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EmergencyNews(nil), m.emergency...)
}

// Get 按 uniqueId 取记录
func (m *MemoryStore) Get(uniqueID string) (News, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[uniqueID]
	return n, ok
}

func (m *MemoryStore) ExistingCanonicalURLs(_ context.Context, urls []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make(map[string]bool)
	for _, u := range urls {
		if _, ok := m.byCanonical[u]; ok {
			found[u] = true
		}
	}
	return found, nil
}

func (m *MemoryStore) TitleStamps(_ context.Context, keys []string, from, to time.Time) ([]processor.TitleStamp, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []processor.TitleStamp
	for _, id := range m.order {
		n := m.byID[id]
		if !want[n.NormalizedTitle] || n.PublishedAt.Before(from) || n.PublishedAt.After(to) {
			continue
		}
		out = append(out, processor.TitleStamp{Key: n.NormalizedTitle, PublishedAt: n.PublishedAt})
	}
	return out, nil
}

func (m *MemoryStore) ListNews(_ context.Context, q ListQuery) ([]News, error) {
	q = q.normalized()
	m.mu.RLock()
	list := make([]News, 0, len(m.order))
	for _, id := range m.order {
		n := m.byID[id]
		if q.Category != "" && n.Category != q.Category {
			continue
		}
		if q.Source != "" && n.Source != q.Source && n.APISource != q.Source {
			continue
		}
		list = append(list, n)
	}
	m.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool { return list[i].PublishedAt.After(list[j].PublishedAt) })
	if len(list) > q.Limit {
		list = list[:q.Limit]
	}
	return list, nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		Total:       int64(len(m.byID)),
		Emergency:   int64(len(m.emergency)),
		ByAPISource: map[string]int64{},
		BySentiment: map[string]int64{},
	}
	for _, n := range m.byID {
		st.ByAPISource[n.APISource]++
		st.BySentiment[n.SentimentLabel]++
		if n.AIProcessed {
			st.AIProcessed++
		}
	}
	return st, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }
