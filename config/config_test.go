package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero default max pages",
			mutate: func(cfg *Config) {
				cfg.DefaultMaxPages = 0
			},
			wantErr: "max pages",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.NavigationTimeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative request delay",
			mutate: func(cfg *Config) {
				cfg.RequestDelay = -time.Millisecond
			},
			wantErr: "request delay",
		},
		{
			name: "unknown browser mode",
			mutate: func(cfg *Config) {
				cfg.BrowserMode = "firefox"
			},
			wantErr: "browser mode",
		},
		{
			name: "unknown store driver",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "mongo"
			},
			wantErr: "store driver",
		},
		{
			name: "sqlite without dsn",
			mutate: func(cfg *Config) {
				cfg.StoreDSN = ""
			},
			wantErr: "store dsn",
		},
		{
			name: "bad output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Fatalf("cache ttl = %v, want 24h", cfg.CacheTTL)
	}
	if cfg.RequestDelay != 2*time.Second {
		t.Fatalf("request delay = %v, want 2s", cfg.RequestDelay)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want 3", cfg.MaxRetries)
	}
}

func TestMemoryStoreNeedsNoDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StoreDriver = "memory"
	cfg.StoreDSN = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory store should not require a dsn, got %v", err)
	}
}

func TestFromViperEnvOverride(t *testing.T) {
	t.Setenv("SCRAPER_CACHE_TTL", "2h")
	t.Setenv("SCRAPER_BROWSER_MODE", "STATIC")
	t.Setenv("SCRAPER_DEFAULT_MAX_PAGES", "7")

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("new viper: %v", err)
	}
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("from viper: %v", err)
	}
	if cfg.CacheTTL != 2*time.Hour {
		t.Fatalf("cache ttl = %v, want 2h", cfg.CacheTTL)
	}
	if cfg.BrowserMode != "static" {
		t.Fatalf("browser mode = %q, want static", cfg.BrowserMode)
	}
	if cfg.DefaultMaxPages != 7 {
		t.Fatalf("default max pages = %d, want 7", cfg.DefaultMaxPages)
	}
}

func TestFromViperConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	body := "store_driver: memory\nrequest_delay: 500ms\nuser_agent: test-agent\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("new viper: %v", err)
	}
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("from viper: %v", err)
	}
	if cfg.StoreDriver != "memory" || cfg.RequestDelay != 500*time.Millisecond || cfg.UserAgent != "test-agent" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestFromViperRejectsInvalid(t *testing.T) {
	t.Setenv("SCRAPER_OUTPUT_FORMAT", "xml")
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("new viper: %v", err)
	}
	if _, err := FromViper(v); err == nil {
		t.Fatalf("expected validation error")
	}
}
