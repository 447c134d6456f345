package pipeline

import (
	"log/slog"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/config"
)

// BuildAdapters 按配置构造启用的适配器，顺序即合并顺序
func BuildAdapters(src config.Sources, client *collector.Client, logger *slog.Logger) []collector.Adapter {
	all := []collector.Adapter{
		&collector.AlphaVantageAdapter{Client: client, APIKey: src.AlphaVantageKey, Topics: src.AlphaVantageTopics, Pause: src.Pause, Logger: logger},
		&collector.NewsAPIAdapter{Client: client, APIKey: src.NewsAPIKey, Categories: src.NewsAPICategories, Country: src.NewsAPICountry, Pause: src.Pause, Logger: logger},
		&collector.SearxAdapter{Client: client, BaseURL: src.SearxBaseURL, Queries: src.SearxQueries, Pause: src.Pause, Logger: logger},
		&collector.CryptoCompareAdapter{Client: client, Logger: logger},
		&collector.RSSAdapter{Client: client, Feeds: src.Feeds, Pause: src.Pause, Logger: logger},
		&collector.HackerNewsAdapter{Client: client, MaxItems: src.HNMaxItems, Pause: src.Pause, Logger: logger},
		&collector.RedditAdapter{Client: client, Subreddits: src.Subreddits, Pause: src.Pause, Logger: logger},
		&collector.FinvizAdapter{Client: client, Pages: src.FinvizPages, Pause: src.Pause, Logger: logger},
	}

	out := make([]collector.Adapter, 0, len(all))
	for _, a := range all {
		if src.IsEnabled(a.Name()) {
			out = append(out, a)
		}
	}
	return out
}
