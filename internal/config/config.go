// Package config loads the layered TOML configuration: an optional
// config.default.toml deep-merged with config.toml (or the path named by
// CONFIG_PATH / --config), following the same spf13/viper merge-then-unmarshal
// pattern used for briefly's YAML config.
package config

import (
	"fmt"
	"os"
	"strings"

	"mynewslens/internal/domain"

	"github.com/spf13/viper"
)

// LLMEndpoint configures one named LLM call site (background, interactive,
// summarization, personalization, embedding, or the shared remote default).
type LLMEndpoint struct {
	APIURL         string `mapstructure:"api_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

// APIKey resolves the endpoint's API key from the environment variable it names.
func (e LLMEndpoint) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	Times []string `mapstructure:"times"`
}

type PolitenessConfig struct {
	DelaySeconds        float64 `mapstructure:"delay_seconds"`
	ConcurrencyPerDomain int    `mapstructure:"concurrency_per_domain"`
	MaxResponseBytes    int64   `mapstructure:"max_response_bytes"`
	FetchTimeoutSeconds int     `mapstructure:"fetch_timeout_seconds"`
	RespectRobotsTxt    bool    `mapstructure:"respect_robots_txt"`
}

type LLMConfig struct {
	Adapter         string      `mapstructure:"adapter"` // local | remote | none
	Remote          LLMEndpoint `mapstructure:"remote"`
	Background      LLMEndpoint `mapstructure:"background"`
	Interactive     LLMEndpoint `mapstructure:"interactive"`
	Summarization   LLMEndpoint `mapstructure:"summarization"`
	Personalization LLMEndpoint `mapstructure:"personalization"`
	Embedding       LLMEndpoint `mapstructure:"embedding"`
}

type ScoringConfig struct {
	WPref       float64 `mapstructure:"w_pref"`
	WRed        float64 `mapstructure:"w_red"`
	WRecency    float64 `mapstructure:"w_recency"`
	WSrc        float64 `mapstructure:"w_src"`
	WNovel      float64 `mapstructure:"w_novel"`
	Serendipity float64 `mapstructure:"serendipity"`
}

type AdminConfig struct {
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir"`
}

type UserFeed struct {
	URL   string `mapstructure:"url"`
	Title string `mapstructure:"title"`
}

type UserSeed struct {
	Username           string     `mapstructure:"username"`
	DisplayName        string     `mapstructure:"display_name"`
	PreferredLanguage  string     `mapstructure:"preferred_language"`
	PasswordHash       string     `mapstructure:"password_hash"`
	Feeds              []UserFeed `mapstructure:"feeds"`
}

// Config is the fully merged, validated application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Users      []UserSeed       `mapstructure:"users"`
	LogLevel   string           `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "data/mynewslens.db")

	v.SetDefault("politeness.delay_seconds", 1.0)
	v.SetDefault("politeness.concurrency_per_domain", 2)
	v.SetDefault("politeness.max_response_bytes", 10*1024*1024)
	v.SetDefault("politeness.fetch_timeout_seconds", 15)
	v.SetDefault("politeness.respect_robots_txt", true)

	v.SetDefault("llm.adapter", "none")

	v.SetDefault("scoring.w_pref", 0.4)
	v.SetDefault("scoring.w_red", 0.6)
	v.SetDefault("scoring.w_recency", 0.0)
	v.SetDefault("scoring.w_src", 0.0)
	v.SetDefault("scoring.w_novel", 0.0)
	v.SetDefault("scoring.serendipity", 0.0)

	v.SetDefault("admin.auto_migrate", true)

	v.SetDefault("log_level", "info")
}

// Load reads config.default.toml (if present) then deep-merges path (or
// config.toml) on top, following the CONFIG_PATH environment variable and
// MYNEWSLENS_-prefixed overrides. MYNEWSLENS_JWT_SECRET is not read here; the
// binary reads it directly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if defaultPath := "config.default.toml"; fileExists(defaultPath) {
		v.SetConfigFile(defaultPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config.default.toml: %v", domain.ErrConfig, err)
		}
	}

	if path == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
		} else {
			path = "config.toml"
		}
	}
	if fileExists(path) {
		override := viper.New()
		override.SetConfigFile(path)
		override.SetConfigType("toml")
		if err := override.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfig, path, err)
		}
		if err := v.MergeConfigMap(override.AllSettings()); err != nil {
			return nil, fmt.Errorf("%w: merge %s: %v", domain.ErrConfig, path, err)
		}
	}

	v.SetEnvPrefix("MYNEWSLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", domain.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects a config that would leave the process in an undefined state.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", domain.ErrConfig)
	}
	switch c.LLM.Adapter {
	case "local", "remote", "none":
	default:
		return fmt.Errorf("%w: llm.adapter must be one of local, remote, none (got %q)", domain.ErrConfig, c.LLM.Adapter)
	}
	for _, t := range c.Scheduler.Times {
		if len(t) != 5 || t[2] != ':' {
			return fmt.Errorf("%w: scheduler.times entry %q is not HH:MM", domain.ErrConfig, t)
		}
	}
	for _, u := range c.Users {
		if u.Username == "" {
			return fmt.Errorf("%w: users entry missing username", domain.ErrConfig)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
