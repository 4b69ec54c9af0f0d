package common

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig `toml:"logging"`
	Storage     StorageConfig `toml:"storage"`
	Pool        PoolConfig    `toml:"pool"`
	Crawler     CrawlerConfig `toml:"crawler"`
	Capture     CaptureConfig `toml:"capture"`
	LLM         LLMConfig     `toml:"llm"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"omitempty,oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                                 // "stdout", "file"
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Captures string `toml:"captures" validate:"required"` // Root directory for capture artifacts and reports
}

// PoolConfig holds per-work-type worker pool settings plus terminal job cleanup
type PoolConfig struct {
	CleanupSchedule string       `toml:"cleanup_schedule"` // Cron schedule for terminal job cleanup, empty disables
	CleanupMaxAge   string       `toml:"cleanup_max_age"`  // e.g. "1h" - terminal jobs older than this are evicted
	Discover        WorkerConfig `toml:"discover"`
	Scan            WorkerConfig `toml:"scan"`
	Analyze         WorkerConfig `toml:"analyze"`
	Synthesize      WorkerConfig `toml:"synthesize"`
}

// WorkerConfig holds execution limits for one work type
type WorkerConfig struct {
	Concurrency int    `toml:"concurrency" validate:"min=1"` // Max concurrently executing handlers
	Timeout     string `toml:"timeout"`                      // e.g. "60s" - per-attempt handler timeout
	MaxRetries  int    `toml:"max_retries" validate:"min=0"` // Retries after the first failed attempt
	RetryDelay  string `toml:"retry_delay"`                  // Delay before a failed attempt is re-queued (0 = immediate)
}

// CrawlerConfig contains page discovery configuration
type CrawlerConfig struct {
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"`            // HTTP request timeout
	RequestDelay   string `toml:"request_delay"`              // Minimum delay between requests to the same host
	MaxDepth       int    `toml:"max_depth" validate:"min=0"` // Default max link depth from the site root
	MaxPages       int    `toml:"max_pages" validate:"min=1"` // Default max pages discovered per site
}

// CaptureConfig contains chromedp capture configuration
type CaptureConfig struct {
	Headless           bool   `toml:"headless"`
	Screenshots        bool   `toml:"screenshots"`          // Capture full-page screenshots per viewport
	JavaScriptWaitTime string `toml:"javascript_wait_time"` // Time to wait for JavaScript to render
}

// LLMConfig selects and configures the content analysis provider
type LLMConfig struct {
	Provider string       `toml:"provider" validate:"omitempty,oneof=claude gemini"` // "claude", "gemini" or empty for heuristic scoring
	Claude   ClaudeConfig `toml:"claude"`
	Gemini   GeminiConfig `toml:"gemini"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// DefaultConfig returns the configuration defaults applied before any file or env override
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/sitelens",
			},
			Filesystem: FilesystemConfig{
				Captures: "./captures",
			},
		},
		Pool: PoolConfig{
			CleanupMaxAge: "1h",
			Discover:      WorkerConfig{Concurrency: 2, Timeout: "60s", MaxRetries: 2, RetryDelay: "0s"},
			Scan:          WorkerConfig{Concurrency: 4, Timeout: "90s", MaxRetries: 2, RetryDelay: "0s"},
			Analyze:       WorkerConfig{Concurrency: 2, Timeout: "120s", MaxRetries: 1, RetryDelay: "0s"},
			Synthesize:    WorkerConfig{Concurrency: 1, Timeout: "180s", MaxRetries: 1, RetryDelay: "0s"},
		},
		Crawler: CrawlerConfig{
			UserAgent:      "Sitelens-Discover/1.0",
			RequestTimeout: "30s",
			RequestDelay:   "500ms",
			MaxDepth:       2,
			MaxPages:       10,
		},
		Capture: CaptureConfig{
			Headless:           true,
			Screenshots:        true,
			JavaScriptWaitTime: "3s",
		},
		LLM: LLMConfig{
			Claude: ClaudeConfig{
				Model:     "claude-sonnet-4-20250514",
				Timeout:   "60s",
				MaxTokens: 4096,
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.0-flash",
			},
		},
	}
}

// LoadFromFiles loads configuration with precedence: defaults -> files (in order) -> env.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SITELENS_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SITELENS_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SITELENS_CAPTURES_DIR"); v != "" {
		config.Storage.Filesystem.Captures = v
	}
	if v := os.Getenv("SITELENS_LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.Claude.APIKey == "" {
		config.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.LLM.Gemini.APIKey == "" {
		config.LLM.Gemini.APIKey = v
	}
}

// Validate checks structural constraints and that every duration field parses
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	durations := map[string]string{
		"pool.discover.timeout":        c.Pool.Discover.Timeout,
		"pool.discover.retry_delay":    c.Pool.Discover.RetryDelay,
		"pool.scan.timeout":            c.Pool.Scan.Timeout,
		"pool.scan.retry_delay":        c.Pool.Scan.RetryDelay,
		"pool.analyze.timeout":         c.Pool.Analyze.Timeout,
		"pool.analyze.retry_delay":     c.Pool.Analyze.RetryDelay,
		"pool.synthesize.timeout":      c.Pool.Synthesize.Timeout,
		"pool.synthesize.retry_delay":  c.Pool.Synthesize.RetryDelay,
		"pool.cleanup_max_age":         c.Pool.CleanupMaxAge,
		"crawler.request_timeout":      c.Crawler.RequestTimeout,
		"crawler.request_delay":        c.Crawler.RequestDelay,
		"capture.javascript_wait_time": c.Capture.JavaScriptWaitTime,
		"llm.claude.timeout":           c.LLM.Claude.Timeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", key, value, err)
		}
	}

	return nil
}

// ParseDurationOr parses a duration string, falling back to def when empty or invalid
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
