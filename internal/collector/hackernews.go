package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	hnBaseURL     = "https://hacker-news.firebaseio.com/v0"
	hnMaxItems    = 20
	hnItemPause   = 100 * time.Millisecond
	hnSourceLabel = "Hacker News"
)

// HNStory 是 Hacker News 官方 Firebase API 的 item 结构
type HNStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

func (s HNStory) APISource() APISource { return APIHackerNews }

func (s HNStory) Fields() RawFields {
	link := s.URL
	if link == "" {
		link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", s.ID)
	}
	return RawFields{
		Title:     s.Title,
		Summary:   fmt.Sprintf("Score: %d | Comments: %d", s.Score, s.Descendants),
		URL:       link,
		Source:    hnSourceLabel,
		Category:  "technology",
		Topic:     "tech",
		Published: Published{Unix: s.Time, Family: DateUnix},
		Relevance: float64(s.Score) / 100,
		Extra: map[string]any{
			"hn_id":    s.ID,
			"author":   s.By,
			"comments": s.Descendants,
			"score":    s.Score,
		},
	}
}

// HackerNewsAdapter 抓取 Hacker News 热门故事
type HackerNewsAdapter struct {
	Client   *Client
	BaseURL  string
	MaxItems int
	Pause    time.Duration
	Logger   *slog.Logger
}

func (h *HackerNewsAdapter) Name() string { return string(APIHackerNews) }

func (h *HackerNewsAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(h.Logger)
	base := h.BaseURL
	if base == "" {
		base = hnBaseURL
	}
	limit := h.MaxItems
	if limit <= 0 {
		limit = hnMaxItems
	}
	wait := h.Pause
	if wait == 0 {
		wait = hnItemPause
	}

	log.Info("collector: fetch hacker news top stories")

	var ids []int
	if err := h.Client.GetJSON(ctx, base+"/topstories.json", nil, &ids); err != nil {
		return nil, sourceErr(h.Name(), fmt.Errorf("top stories: %w", err))
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	var tally callTally
	results := make([]RawItem, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(h.Name(), err)
			}
		}
		var story HNStory
		if err := h.Client.GetJSON(ctx, fmt.Sprintf("%s/item/%d.json", base, id), nil, &story); err != nil {
			tally.fail(log, h.Name(), fmt.Sprintf("item %d", id), err)
			continue
		}
		tally.ok()
		if story.Title == "" || story.Type != "story" {
			continue
		}
		results = append(results, story)
	}

	if serr := tally.result(h.Name()); serr != nil {
		return nil, serr
	}
	if len(results) == 0 {
		log.Info("collector: hacker news returned no items")
	}
	return results, nil
}
