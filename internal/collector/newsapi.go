package collector

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

const (
	newsAPIURL      = "https://newsapi.org/v2/top-headlines"
	newsAPIPageSize = 50
	newsAPIPause    = time.Second
)

var defaultNewsAPICategories = []string{"business", "technology", "science", "health"}

// HeadlineArticle 对应 NewsAPI top-headlines 的 articles 项
type HeadlineArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`

	Category string `json:"-"`
}

func (h HeadlineArticle) APISource() APISource { return APINewsAPI }

func (h HeadlineArticle) Fields() RawFields {
	source := h.Source.Name
	if source == "" {
		source = "NewsAPI"
	}
	return RawFields{
		Title:     h.Title,
		Summary:   h.Description,
		URL:       h.URL,
		Source:    source,
		Category:  h.Category,
		Topic:     h.Category,
		Published: Published{Raw: h.PublishedAt, Family: DateText},
		Relevance: 0.5,
		Extra:     map[string]any{"author": h.Author},
	}
}

type newsAPIResponse struct {
	Status   string            `json:"status"`
	Message  string            `json:"message"`
	Articles []HeadlineArticle `json:"articles"`
}

// NewsAPIAdapter 按分类拉取美国头条
type NewsAPIAdapter struct {
	Client     *Client
	APIKey     string
	Categories []string
	Country    string
	PageSize   int
	BaseURL    string
	Pause      time.Duration
	Logger     *slog.Logger
}

func (n *NewsAPIAdapter) Name() string { return string(APINewsAPI) }

func (n *NewsAPIAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(n.Logger)
	if n.APIKey == "" {
		return nil, sourceErr(n.Name(), errors.New("api key not configured"))
	}
	categories := n.Categories
	if len(categories) == 0 {
		categories = defaultNewsAPICategories
	}
	country := n.Country
	if country == "" {
		country = "us"
	}
	pageSize := n.PageSize
	if pageSize <= 0 {
		pageSize = newsAPIPageSize
	}
	base := n.BaseURL
	if base == "" {
		base = newsAPIURL
	}
	wait := n.Pause
	if wait == 0 {
		wait = newsAPIPause
	}

	var tally callTally
	var results []RawItem
	for i, category := range categories {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(n.Name(), err)
			}
		}
		params := url.Values{}
		params.Set("country", country)
		params.Set("category", category)
		params.Set("pageSize", strconv.Itoa(pageSize))

		var resp newsAPIResponse
		headers := map[string]string{"X-Api-Key": n.APIKey}
		if err := n.Client.GetJSON(ctx, base+"?"+params.Encode(), headers, &resp); err != nil {
			tally.fail(log, n.Name(), category, err)
			continue
		}
		if resp.Status == "error" {
			tally.fail(log, n.Name(), category, errors.New(resp.Message))
			continue
		}
		tally.ok()
		for _, art := range resp.Articles {
			art.Category = category
			results = append(results, art)
		}
	}

	if serr := tally.result(n.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: newsapi fetched", "count", len(results))
	return results, nil
}
