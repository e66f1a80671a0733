// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all collector configuration knobs loaded via Viper.
type Config struct {
	OutputDir  string           `mapstructure:"output_dir"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Server     ServerConfig     `mapstructure:"server"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	BuildHook  string           `mapstructure:"build_hook"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig governs outbound page and feed fetching.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	OriginIntervalMs int    `mapstructure:"origin_interval_ms"`
}

// LLMConfig points at an OpenAI-compatible completion endpoint.
type LLMConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	DigestModel    string `mapstructure:"digest_model"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	Concurrency    int    `mapstructure:"concurrency"`
	RateCount      int    `mapstructure:"rate_count"`
	RateWindowSecs int    `mapstructure:"rate_window_seconds"`
}

// TranscribeConfig points at the audio transcription endpoint.
type TranscribeConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Concurrency    int    `mapstructure:"concurrency"`
	RateCount      int    `mapstructure:"rate_count"`
	RateWindowSecs int    `mapstructure:"rate_window_seconds"`
}

// SnapshotConfig selects the database snapshot provider.
type SnapshotConfig struct {
	Provider      string `mapstructure:"provider"` // gcs, local or noop
	GCSBucket     string `mapstructure:"gcs_bucket"`
	LocalDir      string `mapstructure:"local_dir"`
	ObjectName    string `mapstructure:"object_name"`
	MinIntervalMs int    `mapstructure:"min_interval_ms"`
}

// ServerConfig controls the daemon ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourcesConfig enumerates what gets fetched each pass.
type SourcesConfig struct {
	Aggregators         []string `mapstructure:"aggregators"`
	FeedsOPML           string   `mapstructure:"feeds_opml"`
	PodcastsOPML        string   `mapstructure:"podcasts_opml"`
	MinDiscussion       int      `mapstructure:"min_discussion"`
	FeedWindowDays      int      `mapstructure:"feed_window_days"`
	AggregatorFreshDays int      `mapstructure:"aggregator_fresh_days"`
	FeedFreshYears      int      `mapstructure:"feed_fresh_years"`
	SuccessFreshMinutes int      `mapstructure:"success_fresh_minutes"`
	RetryFreshMinutes   int      `mapstructure:"retry_fresh_minutes"`
}

// DigestConfig controls the synthetic digest source.
type DigestConfig struct {
	IntervalHours int `mapstructure:"interval_hours"`
}

// RetentionConfig controls rotation of old rows.
type RetentionConfig struct {
	PeriodDays int `mapstructure:"period_days"`
}

// DaemonConfig drives the cron loop in daemon mode.
type DaemonConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIGEST")
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
	v.SetDefault("output_dir", "./output")
	v.SetDefault("logging.development", false)
	v.SetDefault("http.user_agent", "quickdigest-collector/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.origin_interval_ms", 500)
	v.SetDefault("llm.endpoint", "https://api.openai.com")
	// Empty-string defaults register the keys with Viper, so environment
	// overrides reach Unmarshal even without a config file entry.
	v.SetDefault("llm.api_key", "")
	v.SetDefault("transcribe.endpoint", "")
	v.SetDefault("transcribe.api_key", "")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.local_dir", "")
	v.SetDefault("sources.feeds_opml", "")
	v.SetDefault("sources.podcasts_opml", "")
	v.SetDefault("build_hook", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.digest_model", "gpt-4o")
	v.SetDefault("llm.max_attempts", 5)
	v.SetDefault("llm.concurrency", 10)
	v.SetDefault("llm.rate_count", 10)
	v.SetDefault("llm.rate_window_seconds", 5)
	v.SetDefault("transcribe.concurrency", 3)
	v.SetDefault("transcribe.rate_count", 2)
	v.SetDefault("transcribe.rate_window_seconds", 10)
	v.SetDefault("snapshot.provider", "noop")
	v.SetDefault("snapshot.object_name", "digest.db")
	v.SetDefault("snapshot.min_interval_ms", 10000)
	v.SetDefault("server.port", 0)
	v.SetDefault("sources.aggregators", []string{"hn", "tildes"})
	v.SetDefault("sources.min_discussion", 2)
	v.SetDefault("sources.feed_window_days", 3)
	v.SetDefault("sources.aggregator_fresh_days", 7)
	v.SetDefault("sources.feed_fresh_years", 100)
	v.SetDefault("sources.success_fresh_minutes", 5)
	v.SetDefault("sources.retry_fresh_minutes", 1)
	v.SetDefault("digest.interval_hours", 4)
	v.SetDefault("retention.period_days", 7)
	v.SetDefault("daemon.schedule", "*/15 * * * *")
}

// Validate enforces required values and reasonable limits. Missing remote
// credentials are fatal here, before any ingestion begins.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must be set")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set")
	}
	if c.Sources.PodcastsOPML != "" {
		if c.Transcribe.Endpoint == "" || c.Transcribe.APIKey == "" {
			return fmt.Errorf("transcribe.endpoint and transcribe.api_key must be set when sources.podcasts_opml is configured")
		}
	}
	switch c.Snapshot.Provider {
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket must be set when snapshot.provider is 'gcs'")
		}
	case "local":
		if c.Snapshot.LocalDir == "" {
			return fmt.Errorf("snapshot.local_dir must be set when snapshot.provider is 'local'")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown snapshot provider: %s", c.Snapshot.Provider)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Sources.MinDiscussion < 0 {
		return fmt.Errorf("sources.min_discussion must be >= 0")
	}
	return nil
}

// HTTPTimeout returns the outbound request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// OriginInterval returns the minimum spacing between same-origin fetches.
func (c Config) OriginInterval() time.Duration {
	return time.Duration(c.HTTP.OriginIntervalMs) * time.Millisecond
}

// FeedWindow returns the trailing window for feed entry ingestion.
func (c Config) FeedWindow() time.Duration {
	return time.Duration(c.Sources.FeedWindowDays) * 24 * time.Hour
}

// AggregatorFreshDelta returns the content freshness delta for aggregator items.
func (c Config) AggregatorFreshDelta() time.Duration {
	return time.Duration(c.Sources.AggregatorFreshDays) * 24 * time.Hour
}

// FeedFreshDelta returns the content freshness delta for feed and podcast
// items. The default is effectively forever: feed entries carry stable ids,
// so a previously ingested entry is never refetched.
func (c Config) FeedFreshDelta() time.Duration {
	return time.Duration(c.Sources.FeedFreshYears) * 365 * 24 * time.Hour
}

// DigestInterval returns the digest bucket width.
func (c Config) DigestInterval() time.Duration {
	return time.Duration(c.Digest.IntervalHours) * time.Hour
}

// RetentionPeriod returns how long content is kept before rotation.
func (c Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Retention.PeriodDays) * 24 * time.Hour
}

// SourceFreshness returns the success/retry deltas for source scheduling.
func (c Config) SourceFreshness() (success, retry time.Duration) {
	return time.Duration(c.Sources.SuccessFreshMinutes) * time.Minute,
		time.Duration(c.Sources.RetryFreshMinutes) * time.Minute
}

// LLMRateWindow returns the window over which llm.rate_count calls are allowed.
func (c Config) LLMRateWindow() time.Duration {
	return time.Duration(c.LLM.RateWindowSecs) * time.Second
}

// TranscribeRateWindow returns the window over which transcribe.rate_count
// calls are allowed.
func (c Config) TranscribeRateWindow() time.Duration {
	return time.Duration(c.Transcribe.RateWindowSecs) * time.Second
}

// SnapshotMinInterval returns the debounce interval for snapshot uploads.
func (c Config) SnapshotMinInterval() time.Duration {
	return time.Duration(c.Snapshot.MinIntervalMs) * time.Millisecond
}
