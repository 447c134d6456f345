package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	rssMaxEntries = 15
	rssPause      = time.Second
)

// FeedConfig 描述一个 RSS/Atom 订阅源
type FeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// DefaultFeeds 是未配置时使用的订阅列表
var DefaultFeeds = []FeedConfig{
	{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Category: "technology"},
	{Name: "BBC Technology", URL: "https://feeds.bbci.co.uk/news/technology/rss.xml", Category: "technology"},
	{Name: "Reuters Business", URL: "https://feeds.reuters.com/reuters/businessNews", Category: "business"},
	{Name: "CNN Business", URL: "https://rss.cnn.com/rss/money_latest.rss", Category: "business"},
}

// FeedEntry 是 RSS/Atom 条目
type FeedEntry struct {
	Title       string
	Link        string
	Description string
	Content     string
	Published   string
	// PublishedParsed 来自 gofeed 的解析结果，可能为空
	PublishedParsed *time.Time
	Author          string

	Feed FeedConfig
}

func (e FeedEntry) APISource() APISource { return APIRSS }

func (e FeedEntry) Fields() RawFields {
	summary := e.Description
	if summary == "" {
		summary = e.Content
	}
	pub := Published{Raw: e.Published, Family: DateText}
	if e.PublishedParsed != nil {
		pub = Published{Raw: e.Published, Unix: e.PublishedParsed.Unix(), Family: DateUnix}
	}
	return RawFields{
		Title:     e.Title,
		Summary:   summary,
		URL:       e.Link,
		Source:    e.Feed.Name,
		Category:  e.Feed.Category,
		Topic:     e.Feed.Category,
		Published: pub,
		Relevance: 0.8,
		Extra:     map[string]any{"author": e.Author, "language": "en"},
	}
}

// RSSAdapter 依次抓取配置的订阅源，单个订阅失败只影响它自己
type RSSAdapter struct {
	Client     *Client
	Feeds      []FeedConfig
	MaxEntries int
	Pause      time.Duration
	Logger     *slog.Logger
}

func (r *RSSAdapter) Name() string { return string(APIRSS) }

func (r *RSSAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(r.Logger)
	feeds := r.Feeds
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}
	limit := r.MaxEntries
	if limit <= 0 {
		limit = rssMaxEntries
	}
	wait := r.Pause
	if wait == 0 {
		wait = rssPause
	}

	parser := gofeed.NewParser()
	var tally callTally
	var results []RawItem
	for i, fc := range feeds {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(r.Name(), err)
			}
		}
		log.Debug("collector: fetch rss", "feed", fc.Name)
		feed, err := r.fetchFeed(ctx, parser, fc.URL)
		if err != nil {
			tally.fail(log, r.Name(), fc.Name, err)
			continue
		}
		tally.ok()
		for j, item := range feed.Items {
			if j >= limit {
				break
			}
			if item == nil || item.Title == "" {
				continue
			}
			entry := FeedEntry{
				Title:           item.Title,
				Link:            item.Link,
				Description:     item.Description,
				Content:         item.Content,
				Published:       item.Published,
				PublishedParsed: item.PublishedParsed,
				Feed:            fc,
			}
			if entry.PublishedParsed == nil && item.UpdatedParsed != nil {
				entry.PublishedParsed = item.UpdatedParsed
			}
			if item.Author != nil {
				entry.Author = item.Author.Name
			}
			results = append(results, entry)
		}
	}

	if serr := tally.result(r.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: rss fetched", "count", len(results), "feeds", len(feeds))
	return results, nil
}

func (r *RSSAdapter) fetchFeed(ctx context.Context, parser *gofeed.Parser, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := r.Client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := parser.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}
