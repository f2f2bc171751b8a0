package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	News        NewsConfig        `mapstructure:"news"`
	Markets     MarketsConfig     `mapstructure:"markets"`
	Polymarket  PolymarketConfig  `mapstructure:"polymarket"`
	Seismic     SeismicConfig     `mapstructure:"seismic"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Hotspots    []models.Hotspot  `mapstructure:"hotspots"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// NewsConfig holds feed ingestion configuration
type NewsConfig struct {
	// Categories maps a category name to its RSS/Atom feed URLs.
	Categories      map[string][]string `mapstructure:"categories"`
	AlertKeywords   []string            `mapstructure:"alert_keywords"`
	RequestInterval time.Duration       `mapstructure:"request_interval"`
	Timeout         time.Duration       `mapstructure:"timeout"`
}

// MarketsConfig lists the financial instruments to watch
type MarketsConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

// SeismicConfig holds the USGS earthquake feed configuration
type SeismicConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	FeedURL      string        `mapstructure:"feed_url"`
	MinMagnitude float64       `mapstructure:"min_magnitude"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	GammaAPIURL    string        `mapstructure:"gamma_api_url"`
	Limit          int           `mapstructure:"limit"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ClusterConfig holds news clustering thresholds
type ClusterConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MinSharedKeywords   int     `mapstructure:"min_shared_keywords"`
}

// CorrelationConfig holds signal thresholds
type CorrelationConfig struct {
	MinEventSize      int                 `mapstructure:"min_event_size"`
	MinKeywordOverlap int                 `mapstructure:"min_keyword_overlap"`
	PredictionMove    float64             `mapstructure:"prediction_move"`
	MarketMovePct     float64             `mapstructure:"market_move_pct"`
	VelocityMinItems  int                 `mapstructure:"velocity_min_items"`
	VelocityWindow    time.Duration       `mapstructure:"velocity_window"`
	CategorySymbols   map[string][]string `mapstructure:"category_symbols"`
}

// EngineConfig holds refresh and snapshot scheduling
type EngineConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	CleanInterval    time.Duration `mapstructure:"clean_interval"`
	RetentionDays    int           `mapstructure:"retention_days"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	HistoryTail      int           `mapstructure:"history_tail"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// RedisConfig holds the signal stream configuration
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	Stream     string `mapstructure:"stream"`
	Channel    string `mapstructure:"channel"`
	MaxLen     int64  `mapstructure:"max_len"`
}

// ArchiveConfig holds S3-compatible snapshot archive configuration
type ArchiveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	Prefix         string `mapstructure:"prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Variables from a .env file in the working directory are loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// SITWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("SITWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// viper deep-merges map defaults into the file's map, so this one is applied by hand
	if len(cfg.News.Categories) == 0 {
		cfg.News.Categories = DefaultNewsCategories()
	}

	return &cfg, nil
}

// DefaultNewsCategories is used when the config file lists no categories.
func DefaultNewsCategories() map[string][]string {
	return map[string][]string{
		"world":      {"https://feeds.bbci.co.uk/news/world/rss.xml"},
		"middleeast": {"https://feeds.bbci.co.uk/news/world/middle_east/rss.xml", "https://www.aljazeera.com/xml/rss/all.xml"},
		"finance":    {"https://feeds.bbci.co.uk/news/business/rss.xml"},
		"tech":       {"https://feeds.bbci.co.uk/news/technology/rss.xml"},
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("news.request_interval", "500ms")
	v.SetDefault("news.timeout", "15s")

	v.SetDefault("markets.symbols", []string{"^GSPC", "^DJI", "^IXIC", "CL=F", "GC=F", "BTC-USD"})

	v.SetDefault("polymarket.enabled", true)
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.limit", 100)
	v.SetDefault("polymarket.min_volume_24h", 0.0) // 0 = no filter
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")

	v.SetDefault("seismic.enabled", true)
	v.SetDefault("seismic.feed_url", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_day.geojson")
	v.SetDefault("seismic.min_magnitude", 4.5)
	v.SetDefault("seismic.timeout", "15s")

	v.SetDefault("cluster.similarity_threshold", 0.5)
	v.SetDefault("cluster.min_shared_keywords", 3)

	v.SetDefault("correlation.min_event_size", 2)
	v.SetDefault("correlation.min_keyword_overlap", 2)
	v.SetDefault("correlation.prediction_move", 0.05)
	v.SetDefault("correlation.market_move_pct", 2.0)
	v.SetDefault("correlation.velocity_min_items", 4)
	v.SetDefault("correlation.velocity_window", "2h")

	v.SetDefault("engine.refresh_interval", "5m")
	v.SetDefault("engine.snapshot_interval", "15m")
	v.SetDefault("engine.clean_interval", "24h")
	v.SetDefault("engine.retention_days", 7)
	v.SetDefault("engine.fetch_concurrency", 4)
	v.SetDefault("engine.fetch_timeout", "30s")
	v.SetDefault("engine.history_tail", 500)

	v.SetDefault("storage.db_path", "./data/sitwatch.db")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "sitwatch:signals")
	v.SetDefault("redis.channel", "sitwatch:signals:live")
	v.SetDefault("redis.max_len", 10000)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.prefix", "sitwatch/")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate News config
	if len(c.News.Categories) == 0 {
		return fmt.Errorf("news.categories must contain at least one category")
	}
	for name, feeds := range c.News.Categories {
		if len(feeds) == 0 {
			return fmt.Errorf("news.categories.%s must list at least one feed", name)
		}
	}
	if c.News.Timeout <= 0 {
		return fmt.Errorf("news.timeout must be positive")
	}
	if c.News.RequestInterval < 0 {
		return fmt.Errorf("news.request_interval must not be negative")
	}

	// Validate Polymarket config
	if c.Polymarket.Enabled {
		if c.Polymarket.GammaAPIURL == "" {
			return fmt.Errorf("polymarket.gamma_api_url is required when polymarket is enabled")
		}
		if c.Polymarket.Limit < 1 || c.Polymarket.Limit > 1000 {
			return fmt.Errorf("polymarket.limit must be between 1 and 1000")
		}
		if c.Polymarket.MinVolume24h < 0 {
			return fmt.Errorf("polymarket.min_volume_24h must not be negative")
		}
	}

	// Validate Seismic config
	if c.Seismic.Enabled {
		if c.Seismic.FeedURL == "" {
			return fmt.Errorf("seismic.feed_url is required when seismic is enabled")
		}
		if c.Seismic.MinMagnitude < 0 {
			return fmt.Errorf("seismic.min_magnitude must not be negative")
		}
	}

	// Validate Cluster config
	if c.Cluster.SimilarityThreshold <= 0 || c.Cluster.SimilarityThreshold > 1 {
		return fmt.Errorf("cluster.similarity_threshold must be in (0, 1]")
	}
	if c.Cluster.MinSharedKeywords < 0 {
		return fmt.Errorf("cluster.min_shared_keywords must not be negative")
	}

	// Validate Correlation config
	if c.Correlation.MinEventSize < 1 {
		return fmt.Errorf("correlation.min_event_size must be at least 1")
	}
	if c.Correlation.MinKeywordOverlap < 1 {
		return fmt.Errorf("correlation.min_keyword_overlap must be at least 1")
	}
	if c.Correlation.PredictionMove <= 0 || c.Correlation.PredictionMove >= 1 {
		return fmt.Errorf("correlation.prediction_move must be between 0.0 and 1.0")
	}
	if c.Correlation.MarketMovePct <= 0 {
		return fmt.Errorf("correlation.market_move_pct must be positive")
	}
	if c.Correlation.VelocityMinItems < 1 {
		return fmt.Errorf("correlation.velocity_min_items must be at least 1")
	}
	if c.Correlation.VelocityWindow <= 0 {
		return fmt.Errorf("correlation.velocity_window must be positive")
	}

	// Validate Hotspots
	seen := make(map[string]bool, len(c.Hotspots))
	for i, h := range c.Hotspots {
		if h.Name == "" {
			return fmt.Errorf("hotspots[%d].name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("hotspots[%d]: duplicate name %q", i, h.Name)
		}
		seen[h.Name] = true
		if len(h.Keywords) == 0 {
			return fmt.Errorf("hotspots[%d].keywords must not be empty", i)
		}
	}

	// Validate Engine config
	if c.Engine.RefreshInterval < 1*time.Minute {
		return fmt.Errorf("engine.refresh_interval must be at least 1 minute")
	}
	if c.Engine.SnapshotInterval < 1*time.Minute {
		return fmt.Errorf("engine.snapshot_interval must be at least 1 minute")
	}
	if c.Engine.CleanInterval < 1*time.Hour {
		return fmt.Errorf("engine.clean_interval must be at least 1 hour")
	}
	if c.Engine.RetentionDays < 1 {
		return fmt.Errorf("engine.retention_days must be at least 1")
	}
	if c.Engine.FetchConcurrency < 1 {
		return fmt.Errorf("engine.fetch_concurrency must be at least 1")
	}
	if c.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("engine.fetch_timeout must be positive")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate Archive config
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
