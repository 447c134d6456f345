package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	redditBaseURL   = "https://www.reddit.com"
	redditLimit     = 10
	redditPause     = time.Second
	redditUserAgent = "Mozilla/5.0 (compatible; NewsHubBot/1.0)"
)

var defaultSubreddits = []string{"technology", "business", "science", "cryptocurrency"}

// RedditPost 对应 /r/<sub>/hot.json 中 children[].data
type RedditPost struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
	Stickied    bool    `json:"stickied"`
}

func (p RedditPost) APISource() APISource { return APIReddit }

func (p RedditPost) Fields() RawFields {
	sub := strings.ToLower(p.Subreddit)
	return RawFields{
		Title:     p.Title,
		Summary:   fmt.Sprintf("Score: %d | Comments: %d | Subreddit: r/%s", p.Score, p.NumComments, sub),
		URL:       p.URL,
		Source:    "Reddit r/" + sub,
		Category:  redditCategory(sub),
		Topic:     sub,
		Published: Published{Unix: int64(p.CreatedUTC), Family: DateUnix},
		Relevance: float64(p.Score) / 1000,
		Extra: map[string]any{
			"score":     p.Score,
			"comments":  p.NumComments,
			"permalink": p.Permalink,
		},
	}
}

func redditCategory(sub string) string {
	switch sub {
	case "technology", "business", "science", "cryptocurrency":
		return sub
	}
	return "general"
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data RedditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// RedditAdapter 逐个 subreddit 拉取 hot 列表
type RedditAdapter struct {
	Client     *Client
	BaseURL    string
	Subreddits []string
	Limit      int
	Pause      time.Duration
	Logger     *slog.Logger
}

func (r *RedditAdapter) Name() string { return string(APIReddit) }

func (r *RedditAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(r.Logger)
	base := r.BaseURL
	if base == "" {
		base = redditBaseURL
	}
	subs := r.Subreddits
	if len(subs) == 0 {
		subs = defaultSubreddits
	}
	limit := r.Limit
	if limit <= 0 {
		limit = redditLimit
	}
	wait := r.Pause
	if wait == 0 {
		wait = redditPause
	}

	var tally callTally
	var results []RawItem
	for i, sub := range subs {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(r.Name(), err)
			}
		}
		var listing redditListing
		endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", strings.TrimRight(base, "/"), sub, limit)
		if err := r.Client.GetJSON(ctx, endpoint, map[string]string{"User-Agent": redditUserAgent}, &listing); err != nil {
			tally.fail(log, r.Name(), sub, err)
			continue
		}
		tally.ok()
		for _, child := range listing.Data.Children {
			post := child.Data
			if post.Title == "" || post.URL == "" || post.Stickied {
				continue
			}
			if post.Subreddit == "" {
				post.Subreddit = sub
			}
			results = append(results, post)
		}
	}

	if serr := tally.result(r.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: reddit fetched", "count", len(results))
	return results, nil
}
