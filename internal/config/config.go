package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// MarketplaceConfig holds per-marketplace endpoints. Base URLs are
// configurable so tests can point the clients at local servers.
type MarketplaceConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	SiteBaseURL string `json:"site_base_url"`
}

// Config holds all runtime configuration parameters
type Config struct {
	DBPath      string `json:"db_path"`
	MetricsPath string `json:"metrics_path"`
	HTTPAddr    string `json:"http_addr"`

	Mercari MarketplaceConfig `json:"mercari"`
	Yahoo   MarketplaceConfig `json:"yahoo"`

	RequestTimeoutMs   int    `json:"request_timeout_ms"`
	MaxItemsPerKeyword int    `json:"max_items_per_keyword"`
	MaxPagesPerKeyword int    `json:"max_pages_per_keyword"`
	ScrapeParallelism  int    `json:"scrape_parallelism"`
	ScrapeSchedule     string `json:"scrape_schedule"`

	EnrichWorkers          int `json:"enrich_workers"`
	EnrichMaxAttempts      int `json:"enrich_max_attempts"`
	EnrichBackoffInitialMs int `json:"enrich_backoff_initial_ms"`
}

// LoadConfig reads and validates configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every field at its default value
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for unspecified fields
func ApplyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "marketdeck.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.log"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8090"
	}
	if cfg.Mercari.APIBaseURL == "" {
		cfg.Mercari.APIBaseURL = "https://api.mercari.jp"
	}
	if cfg.Mercari.SiteBaseURL == "" {
		cfg.Mercari.SiteBaseURL = "https://jp.mercari.com"
	}
	if cfg.Yahoo.APIBaseURL == "" {
		cfg.Yahoo.APIBaseURL = "https://auctions.yahoo.co.jp"
	}
	if cfg.Yahoo.SiteBaseURL == "" {
		cfg.Yahoo.SiteBaseURL = "https://page.auctions.yahoo.co.jp"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 15000
	}
	if cfg.MaxItemsPerKeyword == 0 {
		cfg.MaxItemsPerKeyword = 300
	}
	if cfg.MaxPagesPerKeyword == 0 {
		cfg.MaxPagesPerKeyword = 50
	}
	if cfg.ScrapeParallelism == 0 {
		cfg.ScrapeParallelism = 1
	}
	if cfg.EnrichWorkers == 0 {
		cfg.EnrichWorkers = 3
	}
	if cfg.EnrichMaxAttempts == 0 {
		cfg.EnrichMaxAttempts = 4
	}
	if cfg.EnrichBackoffInitialMs == 0 {
		cfg.EnrichBackoffInitialMs = 2000
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.ScrapeParallelism < 1 {
		return fmt.Errorf("scrape_parallelism must be >= 1")
	}
	if cfg.EnrichWorkers < 1 {
		return fmt.Errorf("enrich_workers must be >= 1")
	}
	if cfg.EnrichMaxAttempts < 1 {
		return fmt.Errorf("enrich_max_attempts must be >= 1")
	}
	if cfg.MaxItemsPerKeyword < 1 {
		return fmt.Errorf("max_items_per_keyword must be >= 1")
	}
	if cfg.MaxPagesPerKeyword < 1 {
		return fmt.Errorf("max_pages_per_keyword must be >= 1")
	}
	return nil
}
