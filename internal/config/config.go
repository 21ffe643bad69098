// Package config loads the gateway configuration: yaml file, then environment
// overrides, on top of defaults.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the local listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ProviderConfig maps a provider name to its upstream.
type ProviderConfig struct {
	// BaseURL is the upstream base; any path segments it carries survive
	// concatenation with the request's remainder.
	BaseURL string `yaml:"base_url"`
	// Family hints the usage wire shape: "anthropic", "openai", or empty for
	// auto-detection.
	Family string `yaml:"family"`
	// Auth selects upstream auth handling: "" forwards client headers
	// verbatim, "sigv4" signs the request with AWS credentials.
	Auth string `yaml:"auth"`
	// Service is the SigV4 service name (default "bedrock").
	Service string `yaml:"service"`
}

// PersistConfig configures the on-disk sinks.
type PersistConfig struct {
	DataDir        string `yaml:"data_dir"`
	RequestLogPath string `yaml:"request_log_path"`
}

// DBPath returns the sqlite file path.
func (p PersistConfig) DBPath() string {
	return filepath.Join(p.DataDir, DefaultDBFile)
}

// RateLimitConfig gates and tunes the optional proxied-request limiter.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	QPS     float64 `yaml:"qps"`
	Burst   int     `yaml:"burst"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	// PricingPath points at the pricing yaml; empty uses built-in rates.
	PricingPath string          `yaml:"pricing_path"`
	MaxEntries  int             `yaml:"max_entries"`
	Persist     PersistConfig   `yaml:"persist"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	// EstimateTokens enables the tiktoken fallback estimate for responses
	// without usage.
	EstimateTokens bool   `yaml:"estimate_tokens"`
	AWSRegion      string `yaml:"aws_region"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {BaseURL: "https://api.anthropic.com", Family: "anthropic"},
			"openai":    {BaseURL: "https://api.openai.com", Family: "openai"},
		},
		MaxEntries: DefaultMaxEntries,
		Persist: PersistConfig{
			DataDir: filepath.Join(home, ".tokenlens"),
		},
		RateLimit: RateLimitConfig{QPS: DefaultRateQPS, Burst: DefaultRateBurst},
		LogLevel:  "info",
	}
}

// Load reads path (when non-empty) over defaults, then applies environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// yaml merges into a pre-populated map, which would leave default
		// providers alongside the file's. A providers key in the file
		// replaces the default set wholesale.
		defaults := cfg.Providers
		cfg.Providers = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Providers == nil {
			cfg.Providers = defaults
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps TOKENLENS_* variables onto the config.
func (c *Config) applyEnv() {
	if v := envOr("TOKENLENS_HOST", ""); v != "" {
		c.Server.Host = v
	}
	if v := envOr("TOKENLENS_PORT", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := envOr("TOKENLENS_PRICING", ""); v != "" {
		c.PricingPath = v
	}
	if v := envOr("TOKENLENS_DATA_DIR", ""); v != "" {
		c.Persist.DataDir = v
	}
	if v := envOr("TOKENLENS_LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := envOr("AWS_REGION", ""); v != "" && c.AWSRegion == "" {
		c.AWSRegion = v
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// Validate checks the configuration, including that no provider points back
// at the proxy itself. Registering the proxy's own URL as an upstream would
// loop requests; an explicit check here replaces fragile port heuristics at
// request time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be > 0, got %d", c.MaxEntries)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, p := range c.Providers {
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("invalid provider name %q", name)
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("provider %s: invalid base_url %q", name, p.BaseURL)
		}
		if c.isSelf(u) {
			return fmt.Errorf("provider %s: base_url %q points at the proxy itself", name, p.BaseURL)
		}
		switch p.Auth {
		case "", "sigv4":
		default:
			return fmt.Errorf("provider %s: unknown auth %q", name, p.Auth)
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.QPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive qps and burst")
	}
	return nil
}

// isSelf reports whether u targets this proxy's own listener.
func (c *Config) isSelf(u *url.URL) bool {
	host, port := u.Hostname(), u.Port()
	if port == "" {
		return false
	}
	if port != strconv.Itoa(c.Server.Port) {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
