package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SCRAPER_CACHE_TTL.
const EnvPrefix = "SCRAPER"

// SetDefaults registers DefaultConfig values on v so that environment
// variables and config files can override them key by key.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("request_delay", d.RequestDelay)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("navigation_timeout", d.NavigationTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("currency", d.Currency)
	v.SetDefault("default_max_pages", d.DefaultMaxPages)
	v.SetDefault("per_page_ceiling", d.PerPageCeiling)
	v.SetDefault("dedupe_max_size", d.DedupeMaxSize)
	v.SetDefault("browser_mode", d.BrowserMode)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("wait_selector", d.WaitSelector)
	v.SetDefault("selectors_file", d.SelectorsFile)
	v.SetDefault("store_driver", d.StoreDriver)
	v.SetDefault("store_dsn", d.StoreDSN)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("verbose", d.Verbose)
}

// NewViper returns a viper instance wired for SCRAPER_* environment
// variables and an optional YAML config file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}
	return v, nil
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL:           v.GetString("base_url"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		RequestDelay:      v.GetDuration("request_delay"),
		SettleDelay:       v.GetDuration("settle_delay"),
		NavigationTimeout: v.GetDuration("navigation_timeout"),
		MaxRetries:        v.GetInt("max_retries"),
		UserAgent:         v.GetString("user_agent"),
		Currency:          v.GetString("currency"),
		DefaultMaxPages:   v.GetInt("default_max_pages"),
		PerPageCeiling:    v.GetInt("per_page_ceiling"),
		DedupeMaxSize:     v.GetInt("dedupe_max_size"),
		BrowserMode:       strings.ToLower(v.GetString("browser_mode")),
		Headless:          v.GetBool("headless"),
		WaitSelector:      v.GetString("wait_selector"),
		SelectorsFile:     v.GetString("selectors_file"),
		StoreDriver:       strings.ToLower(v.GetString("store_driver")),
		StoreDSN:          v.GetString("store_dsn"),
		ListenAddr:        v.GetString("listen_addr"),
		OutputFile:        v.GetString("output_file"),
		OutputFormat:      strings.ToLower(v.GetString("output_format")),
		Verbose:           v.GetBool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
