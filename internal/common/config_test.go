package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitelens.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, 2, config.Pool.Discover.Concurrency)
	assert.Equal(t, 4, config.Pool.Scan.Concurrency)
	assert.Equal(t, 1, config.Pool.Synthesize.Concurrency)
	assert.Equal(t, 2, config.Crawler.MaxDepth)
	assert.Equal(t, 10, config.Crawler.MaxPages)
	assert.True(t, config.Capture.Headless)

	require.NoError(t, config.Validate(), "defaults must validate")
}

func TestLoadFromFiles_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment = "production"

[logging]
level = "debug"

[pool.scan]
concurrency = 8
timeout = "45s"
max_retries = 3

[crawler]
max_pages = 25
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 8, config.Pool.Scan.Concurrency)
	assert.Equal(t, "45s", config.Pool.Scan.Timeout)
	assert.Equal(t, 3, config.Pool.Scan.MaxRetries)
	assert.Equal(t, 25, config.Crawler.MaxPages)

	// Untouched sections keep their defaults
	assert.Equal(t, 2, config.Pool.Discover.Concurrency)
	assert.Equal(t, "./data/sitelens", config.Storage.Badger.Path)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	first := writeConfig(t, `
[crawler]
max_pages = 5
max_depth = 1
`)
	second := writeConfig(t, `
[crawler]
max_pages = 50
`)

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)

	assert.Equal(t, 50, config.Crawler.MaxPages)
	assert.Equal(t, 1, config.Crawler.MaxDepth, "values only in the first file survive")
}

func TestLoadFromFiles_MissingFileFails(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("SITELENS_LOG_LEVEL", "warn")
	t.Setenv("SITELENS_BADGER_PATH", "/tmp/sitelens-test-db")
	t.Setenv("SITELENS_LLM_PROVIDER", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "/tmp/sitelens-test-db", config.Storage.Badger.Path)
	assert.Equal(t, "claude", config.LLM.Provider)
	assert.Equal(t, "sk-test-key", config.LLM.Claude.APIKey)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"zero scan concurrency", func(c *Config) { c.Pool.Scan.Concurrency = 0 }},
		{"negative max retries", func(c *Config) { c.Pool.Analyze.MaxRetries = -1 }},
		{"unparseable timeout", func(c *Config) { c.Pool.Discover.Timeout = "soon" }},
		{"unparseable retry delay", func(c *Config) { c.Pool.Scan.RetryDelay = "a while" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "oracle" }},
		{"empty badger path", func(c *Config) { c.Storage.Badger.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 90*time.Second, ParseDurationOr("90s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("not-a-duration", time.Minute))
	assert.Equal(t, 500*time.Millisecond, ParseDurationOr("500ms", time.Minute))
}
