// Package config loads and validates sitescout configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

// EnvPrefix prefixes every environment override, e.g. SITESCOUT_SERVER_PORT.
const EnvPrefix = "SITESCOUT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	HTTP      HTTPConfig               `mapstructure:"http"`
	Robots    RobotsConfig             `mapstructure:"robots"`
	Sitemap   SitemapConfig            `mapstructure:"sitemap"`
	Links     LinksConfig              `mapstructure:"links"`
	Patterns  map[string]PatternConfig `mapstructure:"patterns"`
	Discovery DiscoveryConfig          `mapstructure:"discovery"`
	FullText  FullTextConfig           `mapstructure:"fulltext"`
	Storage   StorageConfig            `mapstructure:"storage"`
	PubSub    PubSubConfig             `mapstructure:"pubsub"`
	Headless  HeadlessConfig           `mapstructure:"headless"`
	Logging   LoggingConfig            `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// RobotsConfig tunes robots.txt caching.
type RobotsConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// SitemapConfig bounds sitemap recursion and caching.
type SitemapConfig struct {
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxSitemaps  int           `mapstructure:"max_sitemaps"`
	MaxURLs      int           `mapstructure:"max_urls"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// LinksConfig mirrors crawler.Config with regexes kept as strings.
type LinksConfig struct {
	MaxDepth          int      `mapstructure:"max_depth"`
	MaxURLs           int      `mapstructure:"max_urls"`
	SameDomainOnly    bool     `mapstructure:"same_domain_only"`
	IncludeSubdomains bool     `mapstructure:"include_subdomains"`
	AllowedDomains    []string `mapstructure:"allowed_domains"`
	BlockedDomains    []string `mapstructure:"blocked_domains"`
	FollowPatterns    []string `mapstructure:"follow_patterns"`
	IgnoreRegex       string   `mapstructure:"ignore_regex"`
	FollowRegex       string   `mapstructure:"follow_regex"`
	RemoveQueryString bool     `mapstructure:"remove_query_string"`
	SortQueryParams   bool     `mapstructure:"sort_query_params"`
	RespectNofollow   bool     `mapstructure:"respect_nofollow"`
	CheckRobots       bool     `mapstructure:"check_robots"`
}

// PatternConfig declares one URL pattern. Viper lowercases map keys, so
// pattern names are lowercase.
type PatternConfig struct {
	Match      string            `mapstructure:"match"`
	Regex      string            `mapstructure:"regex"`
	ParamNames []string          `mapstructure:"param_names"`
	Activities []string          `mapstructure:"activities"`
	Extract    map[string]string `mapstructure:"extract"`
	Priority   int               `mapstructure:"priority"`
	Metadata   map[string]any    `mapstructure:"metadata"`
}

// DiscoveryConfig tunes deep discovery probing.
type DiscoveryConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// FullTextConfig configures the inverted index.
type FullTextConfig struct {
	Enabled          bool                `mapstructure:"enabled"`
	MinWordLength    int                 `mapstructure:"min_word_length"`
	MaxResults       int                 `mapstructure:"max_results"`
	BatchSize        int                 `mapstructure:"batch_size"`
	Fields           map[string][]string `mapstructure:"fields"`
	ExcludeResources []string            `mapstructure:"exclude_resources"`
	Namespace        string              `mapstructure:"namespace"`
	AutoSave         time.Duration       `mapstructure:"auto_save"`
	RebuildTimeout   time.Duration       `mapstructure:"rebuild_timeout"`
}

// StorageConfig selects the resource store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// SQLiteConfig locates the local database file.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// PostgresConfig controls the Postgres pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// GCSConfig names the bucket records are written to.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig selects where accepted frontier links are published.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	SettleDuration time.Duration `mapstructure:"settle"`
	WaitSelector   string        `mapstructure:"wait_selector"`
	ScrollSteps    int           `mapstructure:"scroll_steps"`

	// AutoPromote re-fetches JavaScript app shells through the renderer.
	AutoPromote   bool `mapstructure:"auto_promote"`
	ThinPageBytes int  `mapstructure:"thin_page_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

var (
	storageBackends = []string{"memory", "sqlite", "postgres", "gcs"}
	pubsubBackends  = []string{"none", "memory", "pubsub"}
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("http.user_agent", "sitescout/1.0 (+https://github.com/JakeFAU/sitescout)")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("robots.cache_ttl", "1h")
	v.SetDefault("robots.fetch_timeout", "10s")
	v.SetDefault("sitemap.max_depth", 3)
	v.SetDefault("sitemap.max_sitemaps", 50)
	v.SetDefault("sitemap.max_urls", 50000)
	v.SetDefault("sitemap.cache_ttl", "1h")
	v.SetDefault("sitemap.fetch_timeout", "30s")
	v.SetDefault("links.max_depth", 3)
	v.SetDefault("links.max_urls", 10000)
	v.SetDefault("links.same_domain_only", true)
	v.SetDefault("links.include_subdomains", false)
	v.SetDefault("links.allowed_domains", []string{})
	v.SetDefault("links.blocked_domains", []string{})
	v.SetDefault("links.follow_patterns", []string{})
	v.SetDefault("links.remove_query_string", false)
	v.SetDefault("links.sort_query_params", true)
	v.SetDefault("links.respect_nofollow", false)
	v.SetDefault("links.check_robots", true)
	v.SetDefault("discovery.max_concurrent", 10)
	v.SetDefault("discovery.probe_timeout", "10s")
	v.SetDefault("fulltext.enabled", true)
	v.SetDefault("fulltext.min_word_length", 3)
	v.SetDefault("fulltext.max_results", 100)
	v.SetDefault("fulltext.batch_size", 100)
	v.SetDefault("fulltext.auto_save", "30s")
	v.SetDefault("fulltext.rebuild_timeout", "5m")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite.path", "sitescout.db")
	v.SetDefault("storage.sqlite.table", "records")
	v.SetDefault("storage.postgres.table", "records")
	v.SetDefault("pubsub.backend", "none")
	v.SetDefault("pubsub.topic", "sitescout-frontier")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.settle", "500ms")
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.scroll_steps", 0)
	v.SetDefault("headless.auto_promote", true)
	v.SetDefault("headless.thin_page_bytes", 2048)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Links.MaxDepth < 0 {
		return fmt.Errorf("links.max_depth must be >= 0")
	}
	if c.Links.MaxURLs <= 0 {
		return fmt.Errorf("links.max_urls must be > 0")
	}
	if _, err := c.Links.Discoverer(); err != nil {
		return err
	}
	if c.Sitemap.MaxDepth <= 0 || c.Sitemap.MaxSitemaps <= 0 || c.Sitemap.MaxURLs <= 0 {
		return fmt.Errorf("sitemap.max_depth, sitemap.max_sitemaps and sitemap.max_urls must be > 0")
	}
	if c.Discovery.MaxConcurrent <= 0 {
		return fmt.Errorf("discovery.max_concurrent must be > 0")
	}
	if c.FullText.MinWordLength <= 0 {
		return fmt.Errorf("fulltext.min_word_length must be > 0")
	}
	if !slices.Contains(storageBackends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be one of %s", strings.Join(storageBackends, ", "))
	}
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	}
	if !slices.Contains(pubsubBackends, c.PubSub.Backend) {
		return fmt.Errorf("pubsub.backend must be one of %s", strings.Join(pubsubBackends, ", "))
	}
	if c.PubSub.Backend == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set for the pubsub backend")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.ScrollSteps < 0 || c.Headless.ThinPageBytes < 0 {
		return fmt.Errorf("headless.scroll_steps and headless.thin_page_bytes must be >= 0")
	}
	if _, err := urlpattern.New(c.PatternConfigs()); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}
	return nil
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PatternConfigs converts the patterns section into matcher configs.
func (c Config) PatternConfigs() map[string]urlpattern.Config {
	out := make(map[string]urlpattern.Config, len(c.Patterns))
	for name, p := range c.Patterns {
		out[name] = urlpattern.Config{
			Match:       p.Match,
			RegexSource: p.Regex,
			ParamNames:  p.ParamNames,
			Activities:  p.Activities,
			Extract:     p.Extract,
			Priority:    p.Priority,
			Metadata:    p.Metadata,
		}
	}
	return out
}

// Discoverer compiles the links section into a crawler.Config.
func (l LinksConfig) Discoverer() (crawler.Config, error) {
	cfg := crawler.Config{
		MaxDepth:          l.MaxDepth,
		MaxURLs:           l.MaxURLs,
		SameDomainOnly:    l.SameDomainOnly,
		IncludeSubdomains: l.IncludeSubdomains,
		AllowedDomains:    l.AllowedDomains,
		BlockedDomains:    l.BlockedDomains,
		FollowPatterns:    l.FollowPatterns,
		RemoveQueryString: l.RemoveQueryString,
		SortQueryParams:   l.SortQueryParams,
		RespectNofollow:   l.RespectNofollow,
	}
	if l.IgnoreRegex != "" {
		re, err := regexp.Compile(l.IgnoreRegex)
		if err != nil {
			return crawler.Config{}, fmt.Errorf("links.ignore_regex: %w", err)
		}
		cfg.IgnoreRegex = re
	}
	if l.FollowRegex != "" {
		re, err := regexp.Compile(l.FollowRegex)
		if err != nil {
			return crawler.Config{}, fmt.Errorf("links.follow_regex: %w", err)
		}
		cfg.FollowRegex = re
	}
	return cfg, nil
}
