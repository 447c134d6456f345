package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LJTian/NewsHub/internal/collector"
)

// SummaryLimit 是摘要的最大 rune 数（包含省略号）
const SummaryLimit = 500

// SentimentLabel 情感标签
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// ErrMalformedItem 表示单条 RawItem 无法规范化，调用方跳过该条继续处理
var ErrMalformedItem = errors.New("malformed item")

// NewsItem 是写入存储层前的统一结构
type NewsItem struct {
	UniqueID     string
	Title        string
	Summary      string
	URL          string
	CanonicalURL string
	Source       string
	APISource    collector.APISource
	Category     string
	Topic        string
	// NormalizedTitle 是模糊去重使用的标题键
	NormalizedTitle string

	PublishedAt time.Time
	// PublishedAtFallback 为 true 表示源站时间无法解析，PublishedAt 取的是抓取时间
	PublishedAtFallback bool
	FetchedAt           time.Time

	RelevanceScore float64

	SentimentScore      float64
	SentimentLabel      SentimentLabel
	SentimentConfidence float64
	SentimentReasoning  string
	AIProcessed         bool

	Extra map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalizer 把各源的 RawItem 转为 NewsItem。除日志外无副作用，相同输入总是得到相同的 UniqueID 与 CanonicalURL。
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize 规范化单条数据；fetchedAt 同时作为无法解析发布时间时的兜底
func (n *Normalizer) Normalize(raw collector.RawItem, fetchedAt time.Time) (NewsItem, error) {
	if raw == nil {
		return NewsItem{}, fmt.Errorf("%w: nil item", ErrMalformedItem)
	}
	f := raw.Fields()
	title := collapseSpace(stripHTML(f.Title))
	if title == "" {
		return NewsItem{}, fmt.Errorf("%w: empty title from %s", ErrMalformedItem, raw.APISource())
	}
	source := strings.TrimSpace(f.Source)
	if source == "" {
		source = string(raw.APISource())
	}

	fetchedAt = fetchedAt.UTC()
	published, ok := ParsePublished(f.Published)
	if !ok {
		published = fetchedAt
		n.logger.Warn("processor: unparseable publish time, using fetch time",
			"source", raw.APISource(), "title", title, "raw", f.Published.Raw)
	}

	return NewsItem{
		UniqueID:            UniqueID(title, source),
		Title:               title,
		Summary:             truncateRunes(collapseSpace(stripHTML(f.Summary)), SummaryLimit),
		URL:                 strings.TrimSpace(f.URL),
		CanonicalURL:        CanonicalURL(f.URL),
		Source:              source,
		APISource:           raw.APISource(),
		Category:            f.Category,
		Topic:               f.Topic,
		NormalizedTitle:     TitleKey(title, source),
		PublishedAt:         published,
		PublishedAtFallback: !ok,
		FetchedAt:           fetchedAt,
		RelevanceScore:      f.Relevance,
		SentimentLabel:      SentimentNeutral,
		Extra:               f.Extra,
	}, nil
}

// NormalizeAll 规范化整批数据，跳过无法规范化的条目并返回跳过的数量
func (n *Normalizer) NormalizeAll(raws []collector.RawItem, fetchedAt time.Time) ([]NewsItem, int) {
	out := make([]NewsItem, 0, len(raws))
	malformed := 0
	for _, raw := range raws {
		item, err := n.Normalize(raw, fetchedAt)
		if err != nil {
			malformed++
			n.logger.Warn("processor: skip item", "err", err)
			continue
		}
		out = append(out, item)
	}
	return out, malformed
}

// UniqueID = sha1(norm(title) + "_" + norm(source))，norm 为去首尾空白并转小写
func UniqueID(title, source string) string {
	h := sha1.New()
	h.Write([]byte(normKey(title) + "_" + normKey(source)))
	return hex.EncodeToString(h.Sum(nil))
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes 按 rune 截断，超出时以省略号结尾，总长度不超过 limit
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return strings.TrimSpace(string(rs[:limit-1])) + "…"
}
