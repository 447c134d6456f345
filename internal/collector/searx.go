package collector

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	searxPerQuery = 10
	searxPause    = time.Second
)

var defaultSearxQueries = []string{"technology news", "business news", "science news", "crypto news"}

// SearxResult 对应 SearXNG format=json 的 results 项
type SearxResult struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	URL           string   `json:"url"`
	Engines       []string `json:"engines"`
	PublishedDate string   `json:"publishedDate"`
	Score         float64  `json:"score"`

	Query string `json:"-"`
}

func (s SearxResult) APISource() APISource { return APISearx }

func (s SearxResult) Fields() RawFields {
	source := "SearXNG"
	if len(s.Engines) > 0 && s.Engines[0] != "" {
		source = s.Engines[0]
	}
	return RawFields{
		Title:     s.Title,
		Summary:   s.Content,
		URL:       s.URL,
		Source:    source,
		Category:  "general",
		Topic:     s.Query,
		Published: Published{Raw: s.PublishedDate, Family: DateText},
		Relevance: s.Score,
		Extra:     map[string]any{"engines": s.Engines},
	}
}

type searxResponse struct {
	Results []SearxResult `json:"results"`
}

// SearxAdapter 通过自建 SearXNG 实例做新闻检索
type SearxAdapter struct {
	Client   *Client
	BaseURL  string
	Queries  []string
	PerQuery int
	Pause    time.Duration
	Logger   *slog.Logger
}

func (s *SearxAdapter) Name() string { return string(APISearx) }

func (s *SearxAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(s.Logger)
	if s.BaseURL == "" {
		return nil, sourceErr(s.Name(), errors.New("base url not configured"))
	}
	queries := s.Queries
	if len(queries) == 0 {
		queries = defaultSearxQueries
	}
	per := s.PerQuery
	if per <= 0 {
		per = searxPerQuery
	}
	wait := s.Pause
	if wait == 0 {
		wait = searxPause
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/search"

	var tally callTally
	var results []RawItem
	for i, q := range queries {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(s.Name(), err)
			}
		}
		params := url.Values{}
		params.Set("q", q)
		params.Set("format", "json")
		params.Set("categories", "news")
		params.Set("time_range", "day")
		params.Set("language", "en")

		var resp searxResponse
		if err := s.Client.GetJSON(ctx, endpoint+"?"+params.Encode(), nil, &resp); err != nil {
			tally.fail(log, s.Name(), q, err)
			continue
		}
		tally.ok()
		for j, r := range resp.Results {
			if j >= per {
				break
			}
			r.Query = q
			results = append(results, r)
		}
	}

	if serr := tally.result(s.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: searx fetched", "count", len(results))
	return results, nil
}
