package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/processor"
)

// UpsertResult 是一次写入的结果
type UpsertResult int

const (
	// Stored 新写入
	Stored UpsertResult = iota
	// Duplicate uniqueId 已存在，只刷新 updated_at
	Duplicate
	// URLConflict canonical_url 已被另一条 uniqueId 占用，本条被拒绝（不是错误）
	URLConflict
)

func (r UpsertResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case URLConflict:
		return "url_conflict"
	}
	return fmt.Sprintf("UpsertResult(%d)", int(r))
}

// ErrUnknownDriver 表示配置了不支持的存储驱动
var ErrUnknownDriver = errors.New("unknown store driver")

// Store 是流水线使用的持久化层：幂等写入、应急写入、去重查询与只读查询
type Store interface {
	processor.StoreQuery

	Upsert(ctx context.Context, item processor.NewsItem) (UpsertResult, error)
	// EmergencyInsert 只写必要字段、不做唯一性检查，仅在 Upsert 出错时使用
	EmergencyInsert(ctx context.Context, item processor.NewsItem) error

	ListNews(ctx context.Context, q ListQuery) ([]News, error)
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// ListQuery 是新闻列表的筛选条件
type ListQuery struct {
	Category string
	Source   string
	Limit    int
}

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 || q.Limit > maxListLimit {
		q.Limit = defaultListLimit
	}
	q.Category = strings.TrimSpace(q.Category)
	q.Source = strings.TrimSpace(q.Source)
	return q
}

// Stats 是面板使用的汇总数据
type Stats struct {
	Total       int64            `json:"total"`
	AIProcessed int64            `json:"aiProcessed"`
	Emergency   int64            `json:"emergency"`
	ByAPISource map[string]int64 `json:"byApiSource"`
	BySentiment map[string]int64 `json:"bySentiment"`
}

// News 是持久化记录，同时用于 gorm、bson 与 API 输出
type News struct {
	UniqueID     string `gorm:"primaryKey;size:40" bson:"unique_id" json:"uniqueId"`
	Title        string `gorm:"size:1024" bson:"title" json:"title"`
	Summary      string `gorm:"size:2048" bson:"summary" json:"summary"`
	URL          string `gorm:"size:2048" bson:"url" json:"url"`
	CanonicalURL string `gorm:"size:2048;uniqueIndex:idx_news_items_canonical_url,where:canonical_url <> ''" bson:"canonical_url" json:"canonicalUrl"`
	Source       string `gorm:"size:128;index" bson:"source" json:"source"`
	APISource    string `gorm:"size:32;index" bson:"api_source" json:"apiSource"`
	Category     string `gorm:"size:64;index" bson:"category" json:"category"`
	Topic        string `gorm:"size:64" bson:"topic" json:"topic"`
	// NormalizedTitle 模糊去重用的标题键
	NormalizedTitle string `gorm:"size:1024;index" bson:"normalized_title" json:"-"`

	PublishedAt         time.Time `gorm:"index" bson:"published_at" json:"publishedAt"`
	PublishedAtFallback bool      `bson:"published_at_fallback" json:"publishedAtFallback"`
	FetchedAt           time.Time `gorm:"index" bson:"fetched_at" json:"fetchedAt"`

	RelevanceScore      float64 `bson:"relevance_score" json:"relevanceScore"`
	SentimentScore      float64 `bson:"sentiment_score" json:"sentimentScore"`
	SentimentLabel      string  `gorm:"size:16;index" bson:"sentiment_label" json:"sentimentLabel"`
	SentimentConfidence float64 `bson:"sentiment_confidence" json:"sentimentConfidence"`
	SentimentReasoning  string  `gorm:"type:text" bson:"sentiment_reasoning" json:"sentimentReasoning"`
	AIProcessed         bool    `gorm:"index" bson:"ai_processed" json:"aiProcessed"`

	Extra datatypes.JSONMap `gorm:"type:jsonb" bson:"extra,omitempty" json:"extra,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (News) TableName() string { return "news_items" }

// EmergencyNews 是应急路径写入的精简记录，表上没有任何唯一约束
type EmergencyNews struct {
	ID             uint      `gorm:"primaryKey" bson:"-" json:"id"`
	UniqueID       string    `gorm:"size:40;index" bson:"unique_id" json:"uniqueId"`
	Title          string    `gorm:"size:1024" bson:"title" json:"title"`
	URL            string    `gorm:"size:2048" bson:"url" json:"url"`
	Source         string    `gorm:"size:128" bson:"source" json:"source"`
	APISource      string    `gorm:"size:32" bson:"api_source" json:"apiSource"`
	PublishedAt    time.Time `bson:"published_at" json:"publishedAt"`
	FetchedAt      time.Time `bson:"fetched_at" json:"fetchedAt"`
	SentimentLabel string    `gorm:"size:16" bson:"sentiment_label" json:"sentimentLabel"`
	SentimentScore float64   `bson:"sentiment_score" json:"sentimentScore"`
	AIProcessed    bool      `bson:"ai_processed" json:"aiProcessed"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

func (EmergencyNews) TableName() string { return "news_items_emergency" }

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度。
// 这是对上游 Normalizer 的双保险。
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func clean(s string, limit int) string {
	return truncateRunesDB(toValidUTF8(s), limit)
}

// FromItem 把 NewsItem 转为存储记录；now 作为 CreatedAt/UpdatedAt
func FromItem(it processor.NewsItem, now time.Time) News {
	now = now.UTC()
	label := it.SentimentLabel
	if label == "" {
		label = processor.SentimentNeutral
	}
	rec := News{
		UniqueID:            it.UniqueID,
		Title:               clean(it.Title, 1024),
		Summary:             clean(it.Summary, 2048),
		URL:                 clean(it.URL, 2048),
		CanonicalURL:        clean(it.CanonicalURL, 2048),
		Source:              clean(it.Source, 128),
		APISource:           string(it.APISource),
		Category:            clean(it.Category, 64),
		Topic:               clean(it.Topic, 64),
		NormalizedTitle:     clean(it.NormalizedTitle, 1024),
		PublishedAt:         it.PublishedAt.UTC(),
		PublishedAtFallback: it.PublishedAtFallback,
		FetchedAt:           it.FetchedAt.UTC(),
		RelevanceScore:      it.RelevanceScore,
		SentimentScore:      it.SentimentScore,
		SentimentLabel:      string(label),
		SentimentConfidence: it.SentimentConfidence,
		SentimentReasoning:  toValidUTF8(it.SentimentReasoning),
		AIProcessed:         it.AIProcessed,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if len(it.Extra) > 0 {
		rec.Extra = datatypes.JSONMap(it.Extra)
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = now
	}
	return rec
}

// Item 把存储记录还原为 NewsItem
func (n News) Item() processor.NewsItem {
	return processor.NewsItem{
		UniqueID:            n.UniqueID,
		Title:               n.Title,
		Summary:             n.Summary,
		URL:                 n.URL,
		CanonicalURL:        n.CanonicalURL,
		Source:              n.Source,
		APISource:           collector.APISource(n.APISource),
		Category:            n.Category,
		Topic:               n.Topic,
		NormalizedTitle:     n.NormalizedTitle,
		PublishedAt:         n.PublishedAt,
		PublishedAtFallback: n.PublishedAtFallback,
		FetchedAt:           n.FetchedAt,
		RelevanceScore:      n.RelevanceScore,
		SentimentScore:      n.SentimentScore,
		SentimentLabel:      processor.SentimentLabel(n.SentimentLabel),
		SentimentConfidence: n.SentimentConfidence,
		SentimentReasoning:  n.SentimentReasoning,
		AIProcessed:         n.AIProcessed,
		Extra:               map[string]any(n.Extra),
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}
}

// emergencyFromItem 只保留应急写入需要的字段，情感字段固定为中性
func emergencyFromItem(it processor.NewsItem, now time.Time) EmergencyNews {
	now = now.UTC()
	fetched := it.FetchedAt.UTC()
	if fetched.IsZero() {
		fetched = now
	}
	return EmergencyNews{
		UniqueID:       it.UniqueID,
		Title:          clean(it.Title, 1024),
		URL:            clean(it.URL, 2048),
		Source:         clean(it.Source, 128),
		APISource:      string(it.APISource),
		PublishedAt:    it.PublishedAt.UTC(),
		FetchedAt:      fetched,
		SentimentLabel: string(processor.SentimentNeutral),
		SentimentScore: 0,
		AIProcessed:    false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
