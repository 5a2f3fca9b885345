package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "marketdeck.db", cfg.DBPath)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, "https://api.mercari.jp", cfg.Mercari.APIBaseURL)
	assert.Equal(t, "https://auctions.yahoo.co.jp", cfg.Yahoo.APIBaseURL)
	assert.Equal(t, 15000, cfg.RequestTimeoutMs)
	assert.Equal(t, 300, cfg.MaxItemsPerKeyword)
	assert.Equal(t, 50, cfg.MaxPagesPerKeyword)
	assert.Equal(t, 1, cfg.ScrapeParallelism)
	assert.Equal(t, 3, cfg.EnrichWorkers)
	assert.Equal(t, 4, cfg.EnrichMaxAttempts)
	assert.Equal(t, 2000, cfg.EnrichBackoffInitialMs)
	assert.Empty(t, cfg.ScrapeSchedule, "no periodic scrape unless asked for")
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `{
		"db_path": "/tmp/test.db",
		"mercari": {"api_base_url": "http://localhost:9999"},
		"scrape_parallelism": 4,
		"scrape_schedule": "0 */6 * * *"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:9999", cfg.Mercari.APIBaseURL)
	assert.Equal(t, "https://jp.mercari.com", cfg.Mercari.SiteBaseURL, "partial sections keep other defaults")
	assert.Equal(t, 4, cfg.ScrapeParallelism)
	assert.Equal(t, "0 */6 * * *", cfg.ScrapeSchedule)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"timeout too small", `{"request_timeout_ms": 100}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
