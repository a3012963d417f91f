package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper, cache and storage configuration.
type Config struct {
	BaseURL           string
	CacheTTL          time.Duration
	RequestDelay      time.Duration
	SettleDelay       time.Duration
	NavigationTimeout time.Duration
	// MaxRetries is accepted and validated but no retry policy consults it yet.
	MaxRetries      int
	UserAgent       string
	Currency        string
	DefaultMaxPages int
	PerPageCeiling  int
	DedupeMaxSize   int
	BrowserMode     string // chrome or static
	Headless        bool
	WaitSelector    string
	SelectorsFile   string
	StoreDriver     string // sqlite, postgres or memory
	StoreDSN        string
	ListenAddr      string
	OutputFile      string
	OutputFormat    string // csv, json, or dual
	Verbose         bool
}

// DefaultConfig returns conservative defaults for the book store target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://www.worldofbooks.com",
		CacheTTL:          24 * time.Hour,
		RequestDelay:      2000 * time.Millisecond,
		SettleDelay:       2000 * time.Millisecond,
		NavigationTimeout: 30 * time.Second,
		MaxRetries:        3,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Currency:          "GBP",
		DefaultMaxPages:   5,
		PerPageCeiling:    20,
		DedupeMaxSize:     10000,
		BrowserMode:       "chrome",
		Headless:          true,
		StoreDriver:       "sqlite",
		StoreDSN:          "data/catalog.db",
		ListenAddr:        ":8080",
		OutputFile:        "output/products.csv",
		OutputFormat:      "csv",
		Verbose:           false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}
	if c.DefaultMaxPages <= 0 {
		return fmt.Errorf("default max pages must be positive")
	}
	if c.PerPageCeiling <= 0 {
		return fmt.Errorf("per page ceiling must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.BrowserMode != "chrome" && c.BrowserMode != "static" {
		return fmt.Errorf("browser mode must be chrome or static")
	}
	switch c.StoreDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("store dsn cannot be empty for %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("store driver must be sqlite, postgres, or memory")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}
