// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Database DatabaseConfig `mapstructure:"database"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Feed     FeedConfig     `mapstructure:"feed"`
	API      APIConfig      `mapstructure:"api"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Debounce DebounceConfig `mapstructure:"debounce"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ArchiveConfig describes the on-disk archive and the rating vocabulary.
type ArchiveConfig struct {
	Root            string        `mapstructure:"root"`
	ContentRatings  []string      `mapstructure:"content_ratings"`
	SafetyRatings   []string      `mapstructure:"safety_ratings"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	ScrapeAtStartup bool          `mapstructure:"scrape_at_startup"`
}

// DatabaseConfig points at the embedded SQLite file.
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// CrawlConfig governs pacing and the download client.
type CrawlConfig struct {
	PageDelay time.Duration `mapstructure:"page_delay"`
	ItemDelay time.Duration `mapstructure:"item_delay"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// DownloadRPS caps media requests per second per host; zero disables the limit.
	DownloadRPS   float64 `mapstructure:"download_rps"`
	DownloadBurst int     `mapstructure:"download_burst"`
	// MaxBodyBytes caps a single media download; zero means unlimited.
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// FeedConfig configures the timeline endpoint.
type FeedConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// APIConfig controls the HTTP front end.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Key     string `mapstructure:"key"`
}

// DiscordConfig controls the chat bot front end.
type DiscordConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Token           string `mapstructure:"token"`
	GuildID         string `mapstructure:"guild_id"`
	FeedChannelID   string `mapstructure:"feed_channel_id"`
	StatusChannelID string `mapstructure:"status_channel_id"`
	AllowedRoleID   string `mapstructure:"allowed_role_id"`
	// PostURLFormat renders a post id into its public URL.
	PostURLFormat string `mapstructure:"post_url_format"`
}

// DebounceConfig sets the quiet period for interactive rating requests.
type DebounceConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. When path is empty the usual
// locations are searched for a config.yaml and a missing file is not an error.
// A .env file in the working directory is applied to the environment first.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/feed-archiver/")
		v.AddConfigPath("$HOME/.feed-archiver")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("archive.root", "./ArchiveImages")
	v.SetDefault("archive.content_ratings", []string{"KF", "NonKF", "Rejected"})
	v.SetDefault("archive.safety_ratings", []string{"Safe", "NSFW", "NSFL"})
	v.SetDefault("archive.check_interval", 3*time.Hour)
	v.SetDefault("archive.scrape_at_startup", false)
	v.SetDefault("database.path", "./archive.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("crawl.page_delay", 3*time.Second)
	v.SetDefault("crawl.item_delay", 4570*time.Millisecond)
	v.SetDefault("crawl.user_agent", "feed-archiver/0.1")
	v.SetDefault("crawl.timeout", 60*time.Second)
	v.SetDefault("crawl.download_rps", 2.0)
	v.SetDefault("crawl.download_burst", 2)
	v.SetDefault("crawl.max_body_bytes", 512<<20)
	v.SetDefault("feed.base_url", "http://localhost:8081")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.post_url_format", "https://x.com/i/status/%s")
	v.SetDefault("debounce.quiet_period", 2*time.Second)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Archive.Root) == "" {
		return fmt.Errorf("archive.root must be set")
	}
	if err := validateVocabulary("archive.content_ratings", c.Archive.ContentRatings); err != nil {
		return err
	}
	if err := validateVocabulary("archive.safety_ratings", c.Archive.SafetyRatings); err != nil {
		return err
	}
	if c.Archive.CheckInterval <= 0 {
		return fmt.Errorf("archive.check_interval must be > 0")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Crawl.PageDelay < 0 || c.Crawl.ItemDelay < 0 {
		return fmt.Errorf("crawl delays must be >= 0")
	}
	if c.Crawl.Timeout <= 0 {
		return fmt.Errorf("crawl.timeout must be > 0")
	}
	if c.Crawl.DownloadRPS < 0 || c.Crawl.DownloadBurst < 0 || c.Crawl.MaxBodyBytes < 0 {
		return fmt.Errorf("crawl download limits must be >= 0")
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token must be set when discord is enabled")
	}
	if c.Debounce.QuietPeriod < 0 {
		return fmt.Errorf("debounce.quiet_period must be >= 0")
	}
	return nil
}

func validateVocabulary(key string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("%s must list at least one rating", key)
	}
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return fmt.Errorf("%s contains an empty rating", key)
		}
		if strings.EqualFold(trimmed, archive.Waiting) {
			return fmt.Errorf("%s must not contain the reserved %q rating", key, archive.Waiting)
		}
		if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." {
			return fmt.Errorf("%s rating %q is not a valid directory name", key, trimmed)
		}
		lower := strings.ToLower(trimmed)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%s lists %q twice", key, trimmed)
		}
		seen[lower] = struct{}{}
	}
	return nil
}

// Vocabulary returns the configured rating vocabulary.
func (c Config) Vocabulary() archive.Vocabulary {
	return archive.Vocabulary{
		Content: append([]string(nil), c.Archive.ContentRatings...),
		Safety:  append([]string(nil), c.Archive.SafetyRatings...),
	}
}

// ArchiveRoot returns the cleaned absolute archive root when it can be resolved.
func (c Config) ArchiveRoot() string {
	root := filepath.Clean(c.Archive.Root)
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}
