// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/toscrape-books/internal/books"
)

// EnvPrefix scopes environment overrides, e.g. BOOKSCRAPER_PROXY_URL.
const EnvPrefix = "BOOKSCRAPER"

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Export  ExportConfig  `mapstructure:"export"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Probe   ProbeConfig   `mapstructure:"probe"`
}

// ProxyConfig accepts either a URL with embedded credentials or a bare
// address plus a separate username/password pair.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ScrapeConfig governs the page range and fan-out of a run.
type ScrapeConfig struct {
	URLTemplate   string  `mapstructure:"url_template"`
	FirstPage     int     `mapstructure:"first_page"`
	LastPage      int     `mapstructure:"last_page"`
	Concurrency   int     `mapstructure:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	UserAgent     string  `mapstructure:"user_agent"`
	Strict        bool    `mapstructure:"strict"`
}

// HTTPConfig configures request timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ExportConfig sets the CSV destination.
type ExportConfig struct {
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig toggles zap development features and the rotating log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// MetricsConfig points at a node_exporter textfile; empty disables the write.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// ProbeConfig is the target of the single authenticated GET.
type ProbeConfig struct {
	URL string `mapstructure:"url"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"concurrency": "scrape.concurrency",
	"pages-from":  "scrape.first_page",
	"pages-to":    "scrape.last_page",
	"strict":      "scrape.strict",
	"out":         "export.path",
	"proxy":       "proxy.url",
	"probe-url":   "probe.url",
	"dev":         "logging.development",
}

// Load builds a Config from disk, environment and, when non-nil, command-line flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.address", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("scrape.url_template", books.DefaultPageTemplate)
	v.SetDefault("scrape.first_page", 1)
	v.SetDefault("scrape.last_page", 50)
	v.SetDefault("scrape.concurrency", 4)
	v.SetDefault("scrape.rate_per_second", 0)
	v.SetDefault("scrape.burst", 1)
	v.SetDefault("scrape.user_agent", "toscrape-books/0.1")
	v.SetDefault("scrape.strict", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("export.path", "scraped-books.csv")
	v.SetDefault("export.base_url", books.DefaultBaseURL)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("probe.url", "http://ip.oxylabs.io")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Proxy.URL != "" && c.Proxy.Address != "" {
		return fmt.Errorf("proxy.url and proxy.address are mutually exclusive")
	}
	if c.Proxy.Address == "" && (c.Proxy.Username != "" || c.Proxy.Password != "") {
		return fmt.Errorf("proxy.username/proxy.password require proxy.address")
	}
	if !strings.Contains(c.Scrape.URLTemplate, "%d") {
		return fmt.Errorf("scrape.url_template must contain %%d")
	}
	if c.Scrape.FirstPage < 1 {
		return fmt.Errorf("scrape.first_page must be >= 1")
	}
	if c.Scrape.LastPage < c.Scrape.FirstPage {
		return fmt.Errorf("scrape.last_page must be >= scrape.first_page")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Scrape.RatePerSecond < 0 {
		return fmt.Errorf("scrape.rate_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms")
	}
	if c.Export.Path == "" {
		return fmt.Errorf("export.path must be set")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
