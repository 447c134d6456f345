package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	alphaVantageURL   = "https://www.alphavantage.co/query"
	alphaVantageLimit = 50
	alphaVantagePause = 500 * time.Millisecond
)

var defaultAlphaVantageTopics = []string{"FOREX", "CRYPTO", "STOCKS", "ECONOMY"}

// AlphaVantageArticle 对应 NEWS_SENTIMENT 接口 feed 数组中的一项
type AlphaVantageArticle struct {
	Title                 string  `json:"title"`
	URL                   string  `json:"url"`
	TimePublished         string  `json:"time_published"`
	Summary               string  `json:"summary"`
	Source                string  `json:"source"`
	OverallSentimentScore float64 `json:"overall_sentiment_score"`
	OverallSentimentLabel string  `json:"overall_sentiment_label"`
	RelevanceScore        string  `json:"relevance_score"`

	// 请求时使用的 topic，不在响应里
	Topic string `json:"-"`
}

func (a AlphaVantageArticle) APISource() APISource { return APIAlphaVantage }

func (a AlphaVantageArticle) Fields() RawFields {
	source := a.Source
	if source == "" {
		source = "Alpha Vantage"
	}
	relevance, _ := strconv.ParseFloat(a.RelevanceScore, 64)
	return RawFields{
		Title:     a.Title,
		Summary:   a.Summary,
		URL:       a.URL,
		Source:    source,
		Category:  "financial",
		Topic:     strings.ToLower(a.Topic),
		Published: Published{Raw: a.TimePublished, Family: DateAlphaVantage},
		Relevance: relevance,
		Extra: map[string]any{
			"av_sentiment_score": a.OverallSentimentScore,
			"av_sentiment_label": a.OverallSentimentLabel,
		},
	}
}

type alphaVantageResponse struct {
	Feed        []AlphaVantageArticle `json:"feed"`
	Information string                `json:"Information"`
	Note        string                `json:"Note"`
}

// AlphaVantageAdapter 按 topic 逐个调用 NEWS_SENTIMENT
type AlphaVantageAdapter struct {
	Client  *Client
	APIKey  string
	Topics  []string
	Limit   int
	BaseURL string
	Pause   time.Duration
	Logger  *slog.Logger
}

func (a *AlphaVantageAdapter) Name() string { return string(APIAlphaVantage) }

func (a *AlphaVantageAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(a.Logger)
	if a.APIKey == "" {
		return nil, sourceErr(a.Name(), errors.New("api key not configured"))
	}
	topics := a.Topics
	if len(topics) == 0 {
		topics = defaultAlphaVantageTopics
	}
	limit := a.Limit
	if limit <= 0 {
		limit = alphaVantageLimit
	}
	base := a.BaseURL
	if base == "" {
		base = alphaVantageURL
	}
	wait := a.Pause
	if wait == 0 {
		wait = alphaVantagePause
	}

	var tally callTally
	var results []RawItem
	for i, topic := range topics {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(a.Name(), err)
			}
		}
		params := url.Values{}
		params.Set("function", "NEWS_SENTIMENT")
		params.Set("topics", topic)
		params.Set("apikey", a.APIKey)
		params.Set("limit", strconv.Itoa(limit))

		var resp alphaVantageResponse
		if err := a.Client.GetJSON(ctx, base+"?"+params.Encode(), nil, &resp); err != nil {
			tally.fail(log, a.Name(), topic, err)
			continue
		}
		// 免费额度用尽时接口依然返回 200，只带一段提示文本
		if len(resp.Feed) == 0 && (resp.Information != "" || resp.Note != "") {
			tally.fail(log, a.Name(), topic, fmt.Errorf("quota: %s%s", resp.Information, resp.Note))
			continue
		}
		tally.ok()
		for _, art := range resp.Feed {
			art.Topic = topic
			results = append(results, art)
		}
	}

	if serr := tally.result(a.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: alpha vantage fetched", "count", len(results))
	return results, nil
}
