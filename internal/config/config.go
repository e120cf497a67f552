// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Update    UpdateConfig    `mapstructure:"update"`
	Trim      TrimConfig      `mapstructure:"trim"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Images    ImagesConfig    `mapstructure:"images"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// APIConfig points the runner and scheduler at the job-run API. An empty
// base URL means the local server.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls the Postgres pool.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig points at the cache shared with the website.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScraperConfig governs the static page fetcher.
type ScraperConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// UpdateConfig sizes the price update worker pool and pagination.
type UpdateConfig struct {
	ThreadCount       int `mapstructure:"thread_count"`
	MinItemsPerThread int `mapstructure:"min_items_per_thread"`
	BatchSize         int `mapstructure:"batch_size"`
}

// TrimConfig controls price history compaction.
type TrimConfig struct {
	MinPricesToKeep int `mapstructure:"min_prices_to_keep"`
}

// CleanupConfig controls dead-listing removal.
type CleanupConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// RunnerConfig controls the job run poll loop.
type RunnerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	JobLookupRetries    int `mapstructure:"job_lookup_retries"`
	MaxSourceErrors     int `mapstructure:"max_source_errors"`
}

// ScheduleEntry maps a job to a cron expression.
type ScheduleEntry struct {
	Job  string `mapstructure:"job"`
	Spec string `mapstructure:"spec"`
}

// SchedulerConfig holds the cron table.
type SchedulerConfig struct {
	Entries []ScheduleEntry `mapstructure:"entries"`
}

// ImagesConfig sets where cover images land.
type ImagesConfig struct {
	Directory string `mapstructure:"directory"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKPRICES")
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
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("scraper.user_agent", "bookprices-bot/1.0")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("update.thread_count", 8)
	v.SetDefault("update.min_items_per_thread", 5)
	v.SetDefault("update.batch_size", 400)
	v.SetDefault("trim.min_prices_to_keep", 10)
	v.SetDefault("cleanup.failure_threshold", 3)
	v.SetDefault("runner.poll_interval_seconds", 10)
	v.SetDefault("runner.job_lookup_retries", 3)
	v.SetDefault("runner.max_source_errors", 5)
	v.SetDefault("images.directory", "images")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Scraper.UserAgent == "" {
		return fmt.Errorf("scraper.user_agent must be set")
	}
	if c.Update.ThreadCount <= 0 {
		return fmt.Errorf("update.thread_count must be > 0")
	}
	if c.Trim.MinPricesToKeep <= 0 {
		return fmt.Errorf("trim.min_prices_to_keep must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for _, e := range c.Scheduler.Entries {
		if e.Job == "" || e.Spec == "" {
			return fmt.Errorf("scheduler.entries require both job and spec")
		}
	}
	return nil
}

// APIBaseURL resolves the job-run API address, defaulting to the local
// server.
func (c Config) APIBaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

// ScrapeTimeout converts the scraper timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// PollInterval converts the runner poll interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalSeconds) * time.Second
}
