package collector

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	cryptoCompareURL      = "https://min-api.cryptocompare.com/data/v2/news/?lang=EN"
	cryptoCompareMaxItems = 15
)

// CryptoCompareArticle 对应 CryptoCompare news v2 的 Data 项
type CryptoCompareArticle struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedOn int64  `json:"published_on"`
	Categories  string `json:"categories"`
}

func (c CryptoCompareArticle) APISource() APISource { return APICryptoCompare }

func (c CryptoCompareArticle) Fields() RawFields {
	source := c.Source
	if source == "" {
		source = "CryptoCompare"
	}
	return RawFields{
		Title:     c.Title,
		Summary:   c.Body,
		URL:       c.URL,
		Source:    source,
		Category:  "cryptocurrency",
		Topic:     "crypto",
		Published: Published{Unix: c.PublishedOn, Family: DateUnix},
		Relevance: 0.8,
		Extra:     map[string]any{"cc_id": c.ID, "cc_categories": c.Categories},
	}
}

type cryptoCompareResponse struct {
	Data []CryptoCompareArticle `json:"Data"`
}

// CryptoCompareAdapter 抓取 CryptoCompare 免费新闻流，单次调用
type CryptoCompareAdapter struct {
	Client   *Client
	URL      string
	MaxItems int
	Logger   *slog.Logger
}

func (c *CryptoCompareAdapter) Name() string { return string(APICryptoCompare) }

func (c *CryptoCompareAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	endpoint := c.URL
	if endpoint == "" {
		endpoint = cryptoCompareURL
	}
	limit := c.MaxItems
	if limit <= 0 {
		limit = cryptoCompareMaxItems
	}

	var resp cryptoCompareResponse
	if err := c.Client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, sourceErr(c.Name(), fmt.Errorf("news: %w", err))
	}

	data := resp.Data
	if len(data) > limit {
		data = data[:limit]
	}
	results := make([]RawItem, 0, len(data))
	for _, art := range data {
		results = append(results, art)
	}
	loggerOr(c.Logger).Info("collector: cryptocompare fetched", "count", len(results))
	return results, nil
}
