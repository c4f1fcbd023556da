package commands

import (
	"time"

	"blogstat-backend/internal/aggregate"
	"blogstat-backend/internal/comments"
	"blogstat-backend/internal/components/configutil"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/fetch"
	"blogstat-backend/internal/resolve"
	"blogstat-backend/internal/snapshot"
)

// Config is read from blogstat.json5 (and blogstat.local.json5). A field
// left at its zero value in a file keeps the default.
type Config struct {
	UserAgent         string  `json:"user_agent"`
	MaxRetries        int     `json:"max_retries"`
	RetryDelayMs      int     `json:"retry_delay_ms"`
	TimeoutMs         int     `json:"timeout_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`

	Concurrency     int `json:"concurrency"`
	BatchTimeoutMs  int `json:"batch_timeout_ms"`
	MaxCommentPages int `json:"max_comment_pages"`

	Endpoints resolve.Endpoints       `json:"endpoints"`
	Database  snapshot.DatabaseConfig `json:"database"`
	Otlp      telemetry.OtlpConfig    `json:"otlp"`
}

func DefaultConfig() Config {
	fetchOpts := fetch.DefaultOptions()
	return Config{
		UserAgent:       fetchOpts.UserAgent,
		MaxRetries:      fetchOpts.MaxRetries,
		RetryDelayMs:    int(fetchOpts.RetryDelay.Milliseconds()),
		TimeoutMs:       int(fetchOpts.Timeout.Milliseconds()),
		Concurrency:     aggregate.DefaultConcurrency,
		MaxCommentPages: comments.DefaultMaxPages,
		Endpoints:       resolve.DefaultEndpoints(),
	}
}

func LoadConfig(path string) (Config, error) {
	return configutil.ReadConfig(path, DefaultConfig())
}

func (c Config) FetchOptions() fetch.Options {
	return fetch.Options{
		UserAgent:         c.UserAgent,
		MaxRetries:        c.MaxRetries,
		RetryDelay:        time.Duration(c.RetryDelayMs) * time.Millisecond,
		Timeout:           time.Duration(c.TimeoutMs) * time.Millisecond,
		RequestsPerSecond: c.RequestsPerSecond,
		CloudflareBypass:  c.CloudflareBypass,
	}
}

func (c Config) AggregateOptions() aggregate.Options {
	return aggregate.Options{
		Concurrency:  c.Concurrency,
		BatchTimeout: time.Duration(c.BatchTimeoutMs) * time.Millisecond,
	}
}

func (c Config) CommentOptions() comments.Options {
	return comments.Options{
		UserAgent: c.UserAgent,
		MaxPages:  c.MaxCommentPages,
	}
}

func (c Config) HasDatabase() bool {
	return c.Database.File != "" || c.Database.Url != ""
}
