package config

import (
	"strconv"
	"strings"

	"inkwell/pkg/logger"
)

// Canonical defaults applied by ValidateConfig. Components must not
// re-default these values locally; they rely on validation having run.
const (
	DefaultCacheTTLSeconds  = 300
	DefaultContentLimit     = 10000
	DefaultSnippetLength    = 200
	DefaultRateCapacity     = 10
	DefaultRateIntervalMs   = 1000
	DefaultWorkflowAttempts = 3
	DefaultInitialBackoffMs = 5000
	DefaultQueueCapacity    = 1024
	DefaultPersistCron      = "*/5 * * * *"
	DefaultPublishSweepCron = "* * * * *"
	DefaultRetentionCron    = "0 3 * * *"
	DefaultEnvName          = "development"
)

// Parsed carries a value together with whether it was substituted by a
// default and why. Malformed stored values never crash config loading;
// they produce a Defaulted result that is logged so the substitution is
// observable, and tests can assert which path was taken.
type Parsed[T any] struct {
	Value     T
	Defaulted bool
	Reason    string
}

// ParseIntDefault parses s as an int, substituting def on failure.
func ParseIntDefault(s string, def int, field string) Parsed[int] {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		logger.Warn("config_value_defaulted", "field", field, "value", s, "default", def)
		return Parsed[int]{Value: def, Defaulted: true, Reason: err.Error()}
	}
	return Parsed[int]{Value: n}
}

// ParseFloatDefault parses s as a float64, substituting def on failure.
func ParseFloatDefault(s string, def float64, field string) Parsed[float64] {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		logger.Warn("config_value_defaulted", "field", field, "value", s, "default", def)
		return Parsed[float64]{Value: def, Defaulted: true, Reason: err.Error()}
	}
	return Parsed[float64]{Value: f}
}

// ValidateConfig applies canonical defaults to zero-valued fields and
// rejects impossible combinations. It is the single place defaults are
// decided; call it once on the effective config before wiring.
func ValidateConfig(c *Config) {
	if c.Server.Env == "" {
		c.Server.Env = DefaultEnvName
	}
	if c.Server.PostsDBPath == "" {
		c.Server.PostsDBPath = "./.posts.db"
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = DefaultCacheTTLSeconds
	}
	if c.Search.ContentLimit <= 0 {
		c.Search.ContentLimit = DefaultContentLimit
	}
	if c.Search.SnippetLength <= 0 {
		c.Search.SnippetLength = DefaultSnippetLength
	}
	if c.Search.PersistCron == "" {
		c.Search.PersistCron = DefaultPersistCron
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = DefaultRateCapacity
	}
	if c.RateLimit.IntervalMs <= 0 {
		c.RateLimit.IntervalMs = DefaultRateIntervalMs
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = DefaultWorkflowAttempts
	}
	if c.Workflow.InitialBackoffMs <= 0 {
		c.Workflow.InitialBackoffMs = DefaultInitialBackoffMs
	}
	if c.Workflow.QueueCapacity <= 0 {
		c.Workflow.QueueCapacity = DefaultQueueCapacity
	}
	if c.Workflow.RetentionCron == "" {
		c.Workflow.RetentionCron = DefaultRetentionCron
	}
	if c.Publish.SweepCron == "" {
		c.Publish.SweepCron = DefaultPublishSweepCron
	}
	if c.AI.Model == "" && c.AI.Endpoint != "" {
		c.AI.Model = "gpt-4o-mini"
	}
}

// IsProduction reports whether the server runs with env=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}
