package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML configuration. Zero values are replaced by
// canonical defaults in ValidateConfig.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		// DBPath is the pebble directory holding derived state (cache,
		// index blob, rate-limit buckets, workflow runs).
		DBPath string `yaml:"db_path"`
		// PostsDBPath is the sqlite file holding the post source of truth.
		PostsDBPath string `yaml:"posts_db_path"`
		// BaseURL is the public origin, used for CDN purges, RSS and sitemap.
		BaseURL string `yaml:"base_url"`
		// Env is "production" or "development"; CDN purges are skipped
		// outside production.
		Env string `yaml:"env"`
	} `yaml:"server"`

	Cache struct {
		// DefaultTTL is the cache entry TTL in seconds.
		DefaultTTL int `yaml:"default_ttl"`
	} `yaml:"cache"`

	Search struct {
		// ContentLimit bounds the indexed plain-text slice per post.
		ContentLimit int `yaml:"content_limit"`
		// SnippetLength bounds the derived summary when none is authored.
		SnippetLength int    `yaml:"snippet_length"`
		PersistCron   string `yaml:"persist_cron"`
	} `yaml:"search"`

	RateLimit struct {
		Capacity   float64 `yaml:"capacity"`
		IntervalMs int64   `yaml:"interval_ms"`
	} `yaml:"rate_limit"`

	CDN struct {
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
	} `yaml:"cdn"`

	AI struct {
		Endpoint string  `yaml:"endpoint"`
		APIKey   string  `yaml:"api_key"`
		Model    string  `yaml:"model"`
		RPS      float64 `yaml:"rps"`
	} `yaml:"ai"`

	Mail struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
		From     string `yaml:"from"`
	} `yaml:"mail"`

	Workflow struct {
		MaxAttempts      int    `yaml:"max_attempts"`
		InitialBackoffMs int64  `yaml:"initial_backoff_ms"`
		QueueCapacity    int    `yaml:"queue_capacity"`
		RetentionCron    string `yaml:"retention_cron"`
	} `yaml:"workflow"`

	Publish struct {
		SweepCron string `yaml:"sweep_cron"`
	} `yaml:"publish"`

	APIKeys struct {
		Admin []string `yaml:"admin"`
	} `yaml:"api_keys"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}
