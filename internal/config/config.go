package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LJTian/NewsHub/internal/collector"
)

const configPathEnv = "NEWSHUB_CONFIG"

type Config struct {
	AppPort string
	// 为空时不启用 Basic Auth
	BasicAuthUser string
	BasicAuthPass string

	StoreDriver string
	PostgresDSN string
	MongoURI    string
	MongoDB     string
	// 为空时不启用 Redis 缓存
	RedisAddr string

	CronSpec string
	LogLevel string

	OllamaBaseURL string
	OllamaModel   string
	EnrichTimeout time.Duration
	EnrichWorkers int

	DedupWindow   time.Duration
	SourceTimeout time.Duration
	RunTimeout    time.Duration
	FetchRetries  int
	FetchTimeout  time.Duration

	Sources Sources
}

// Sources 是各数据源的配置，可以由 YAML 文件整体覆盖
type Sources struct {
	// Enabled 为空表示启用全部适配器
	Enabled []string `yaml:"enabled"`

	AlphaVantageKey    string   `yaml:"alpha_vantage_key"`
	AlphaVantageTopics []string `yaml:"alpha_vantage_topics"`

	NewsAPIKey        string   `yaml:"newsapi_key"`
	NewsAPICategories []string `yaml:"newsapi_categories"`
	NewsAPICountry    string   `yaml:"newsapi_country"`

	SearxBaseURL string   `yaml:"searx_base_url"`
	SearxQueries []string `yaml:"searx_queries"`

	Feeds       []collector.FeedConfig `yaml:"feeds"`
	Subreddits  []string               `yaml:"subreddits"`
	FinvizPages []string               `yaml:"finviz_pages"`
	HNMaxItems  int                    `yaml:"hackernews_max_items"`

	// Pause 是适配器内部相邻两次调用之间的限速等待，0 表示使用各适配器默认值
	Pause time.Duration `yaml:"pause"`
}

// IsEnabled 判断某个适配器是否启用
func (s Sources) IsEnabled(name string) bool {
	if len(s.Enabled) == 0 {
		return true
	}
	for _, n := range s.Enabled {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}

func Load() *Config {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
		StoreDriver:   getEnv("STORE_DRIVER", "postgres"),
		PostgresDSN:   getEnv("POSTGRES_DSN", "host=localhost user=newshub password=newshub dbname=newshub port=5432 sslmode=disable TimeZone=UTC"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "newshub"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		CronSpec:      getEnv("CRON_SPEC", "*/30 * * * *"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3.2:3b"),
		EnrichTimeout: getEnvAsDuration("ENRICH_TIMEOUT", 120*time.Second),
		EnrichWorkers: getEnvAsInt("ENRICH_WORKERS", 4),
		DedupWindow:   time.Duration(getEnvAsInt("DEDUP_WINDOW_HOURS", 48)) * time.Hour,
		SourceTimeout: getEnvAsDuration("SOURCE_TIMEOUT", 2*time.Minute),
		RunTimeout:    getEnvAsDuration("RUN_TIMEOUT", 10*time.Minute),
		FetchRetries:  getEnvAsInt("FETCH_RETRIES", 3),
		FetchTimeout:  getEnvAsDuration("FETCH_TIMEOUT", 15*time.Second),
		Sources: Sources{
			Enabled:            getEnvAsList("SOURCES_ENABLED", nil),
			AlphaVantageKey:    getEnv("ALPHA_VANTAGE_API_KEY", ""),
			AlphaVantageTopics: getEnvAsList("ALPHA_VANTAGE_TOPICS", nil),
			NewsAPIKey:         getEnv("NEWSAPI_KEY", ""),
			NewsAPICategories:  getEnvAsList("NEWSAPI_CATEGORIES", nil),
			NewsAPICountry:     getEnv("NEWSAPI_COUNTRY", "us"),
			SearxBaseURL:       getEnv("SEARX_BASE_URL", ""),
			SearxQueries:       getEnvAsList("SEARX_QUERIES", nil),
			Subreddits:         getEnvAsList("REDDIT_SUBREDDITS", nil),
			HNMaxItems:         getEnvAsInt("HN_MAX_ITEMS", 30),
			Pause:              getEnvAsDuration("SOURCE_PAUSE", 0),
		},
	}

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			slog.Warn("config: ignore config file", "path", path, "err", err)
		}
	}

	slog.Info("config loaded", "port", cfg.AppPort, "driver", cfg.StoreDriver, "cron", cfg.CronSpec)
	return cfg
}

// overlayFile 用 YAML 文件中的 sources 配置覆盖环境变量结果，文件中未出现的字段保持原值
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Sources *Sources `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	if file.Sources != nil {
		c.Sources = mergeSources(c.Sources, *file.Sources)
	}
	return nil
}

func mergeSources(base, over Sources) Sources {
	if len(over.Enabled) > 0 {
		base.Enabled = over.Enabled
	}
	if over.AlphaVantageKey != "" {
		base.AlphaVantageKey = over.AlphaVantageKey
	}
	if len(over.AlphaVantageTopics) > 0 {
		base.AlphaVantageTopics = over.AlphaVantageTopics
	}
	if over.NewsAPIKey != "" {
		base.NewsAPIKey = over.NewsAPIKey
	}
	if len(over.NewsAPICategories) > 0 {
		base.NewsAPICategories = over.NewsAPICategories
	}
	if over.NewsAPICountry != "" {
		base.NewsAPICountry = over.NewsAPICountry
	}
	if over.SearxBaseURL != "" {
		base.SearxBaseURL = over.SearxBaseURL
	}
	if len(over.SearxQueries) > 0 {
		base.SearxQueries = over.SearxQueries
	}
	if len(over.Feeds) > 0 {
		base.Feeds = over.Feeds
	}
	if len(over.Subreddits) > 0 {
		base.Subreddits = over.Subreddits
	}
	if len(over.FinvizPages) > 0 {
		base.FinvizPages = over.FinvizPages
	}
	if over.HNMaxItems > 0 {
		base.HNMaxItems = over.HNMaxItems
	}
	if over.Pause > 0 {
		base.Pause = over.Pause
	}
	return base
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config: invalid int, using default", "key", key, "value", v)
		return def
	}
	return n
}

// getEnvAsDuration 支持 "90s" 这类写法，也接受纯数字秒数
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	slog.Warn("config: invalid duration, using default", "key", key, "value", v)
	return def
}

// getEnvAsList 读取逗号分隔的列表，忽略空项
func getEnvAsList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
