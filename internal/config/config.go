// Package config loads and validates ETL configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob of the ETL, loaded once at process start and
// handed to component constructors.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Census    CensusConfig    `mapstructure:"census"`
	Source    SourceConfig    `mapstructure:"source"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Transform TransformConfig `mapstructure:"transform"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	DB        DBConfig        `mapstructure:"db"`
	CSV       CSVConfig       `mapstructure:"csv"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the HTTP access layer.
type HTTPConfig struct {
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxRetries         int    `mapstructure:"max_retries"`
	BackoffInitialMs   int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int    `mapstructure:"backoff_max_ms"`
	RateLimitBackoffMs int    `mapstructure:"rate_limit_backoff_ms"`
	BackoffJitter      bool   `mapstructure:"backoff_jitter"`
	MinDelayMs         int    `mapstructure:"min_delay_ms"`
	MaxDelayMs         int    `mapstructure:"max_delay_ms"`
	UserAgent          string `mapstructure:"user_agent"`
	VerifySSL          bool   `mapstructure:"verify_ssl"`
	ProxyURL           string `mapstructure:"proxy_url"`
}

// PolicyConfig is the optional token bucket applied on top of the courtesy delay.
type PolicyConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CacheConfig controls the on-disk response cache of the source extractor.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// CensusConfig points at the reference API.
type CensusConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	CacheTTLHours int    `mapstructure:"cache_ttl_hours"`
}

// SourceConfig points at the living-wage site.
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ScrapeConfig sizes the fetch stage.
type ScrapeConfig struct {
	Workers int `mapstructure:"workers"`
}

// TransformConfig tunes the wide-format pre-check.
type TransformConfig struct {
	MaxNullRatio float64 `mapstructure:"max_null_ratio"`
}

// PipelineConfig selects what a run covers and how it is judged.
type PipelineConfig struct {
	TargetStates   []string `mapstructure:"target_states"`
	MinSuccessRate float64  `mapstructure:"min_success_rate"`
	EntityLimit    int      `mapstructure:"entity_limit"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CSVConfig enables the secondary CSV sink.
type CSVConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ArchiveConfig selects where raw source pages are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the run-summary topic.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAGEETL")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.rate_limit_backoff_ms", 4000)
	v.SetDefault("http.backoff_jitter", false)
	v.SetDefault("http.min_delay_ms", 2000)
	v.SetDefault("http.max_delay_ms", 5000)
	v.SetDefault("http.user_agent", "Wage-ETL/1.0 (Educational Project)")
	v.SetDefault("http.verify_ssl", true)
	v.SetDefault("http.proxy_url", "")
	v.SetDefault("policy.requests_per_second", 0)
	v.SetDefault("policy.burst", 1)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.ttl_hours", 24*30)
	v.SetDefault("census.base_url", "https://api.census.gov/data/2020/dec/pl")
	v.SetDefault("census.api_key", "")
	v.SetDefault("census.cache_ttl_hours", 24*365)
	v.SetDefault("source.base_url", "https://livingwage.mit.edu")
	v.SetDefault("scrape.workers", 1)
	v.SetDefault("transform.max_null_ratio", 0.10)
	v.SetDefault("pipeline.target_states", []string{"01"})
	v.SetDefault("pipeline.min_success_rate", 0.9)
	v.SetDefault("pipeline.entity_limit", 0)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("csv.enabled", false)
	v.SetDefault("csv.dir", "data/output")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 || c.HTTP.RateLimitBackoffMs < 0 {
		return fmt.Errorf("http backoff values must be >= 0")
	}
	if c.HTTP.MinDelayMs < 0 || c.HTTP.MaxDelayMs < c.HTTP.MinDelayMs {
		return fmt.Errorf("http.max_delay_ms must be >= http.min_delay_ms >= 0")
	}
	if c.HTTP.ProxyURL != "" {
		if _, err := url.Parse(c.HTTP.ProxyURL); err != nil {
			return fmt.Errorf("http.proxy_url is invalid: %w", err)
		}
	}
	if c.Policy.RequestsPerSecond < 0 {
		return fmt.Errorf("policy.requests_per_second must be >= 0")
	}
	if strings.TrimSpace(c.Census.BaseURL) == "" {
		return fmt.Errorf("census.base_url is required")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be > 0")
	}
	if c.Transform.MaxNullRatio < 0 || c.Transform.MaxNullRatio > 1 {
		return fmt.Errorf("transform.max_null_ratio must be within [0, 1]")
	}
	if c.Pipeline.MinSuccessRate < 0 || c.Pipeline.MinSuccessRate > 1 {
		return fmt.Errorf("pipeline.min_success_rate must be within [0, 1]")
	}
	switch c.Archive.Provider {
	case "", "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RequestTimeout returns the per-attempt HTTP timeout.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the source cache TTL.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CacheTTL returns the reference cache TTL.
func (c CensusConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
