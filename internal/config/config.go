package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Client    ClientConfig
	Storage   StorageConfig
	Log       LogConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	BaseURL        string
	Timeout        string
	AnalyzeTimeout string
}

type ClientConfig struct {
	// BaseURL is where CLI commands reach the proxy; empty means the local
	// server on Server.Port.
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type CacheConfig struct {
	RelatedTreeTTL string
}

type RateLimitConfig struct {
	AnalyzePerMinute int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Backend: BackendConfig{
			BaseURL:        "http://rat-api.eba-qsjc6vnd.us-east-1.elasticbeanstalk.com",
			Timeout:        "30s",
			AnalyzeTimeout: "120s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			RelatedTreeTTL: "30s",
		},
		RateLimit: RateLimitConfig{
			AnalyzePerMinute: 6,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/rat/config.json, then applies RAT_* environment overrides.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend.base_url %q: must be an absolute http(s) URL", c.Backend.BaseURL)
	}
	for key, v := range map[string]string{
		"backend.timeout":         c.Backend.Timeout,
		"backend.analyze_timeout": c.Backend.AnalyzeTimeout,
		"cache.related_tree_ttl":  c.Cache.RelatedTreeTTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// ProxyURL is the base URL CLI commands use to reach the proxy.
func (c Config) ProxyURL() string {
	if c.Client.BaseURL != "" {
		return c.Client.BaseURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
}

// Durations returns the parsed backend timeouts and cache TTL. Load has
// already validated them.
func (c Config) Durations() (timeout, analyzeTimeout, relatedTTL time.Duration) {
	timeout, _ = time.ParseDuration(c.Backend.Timeout)
	analyzeTimeout, _ = time.ParseDuration(c.Backend.AnalyzeTimeout)
	relatedTTL, _ = time.ParseDuration(c.Cache.RelatedTreeTTL)
	return
}
