package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the jobkeeper server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Inference InferenceConfig `yaml:"inference"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
	// RateLimit is the number of submissions allowed per client per minute.
	// Zero disables rate limiting.
	RateLimit int `yaml:"rate_limit"`
}

type StoreConfig struct {
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type JobsConfig struct {
	MaxAnalyze    int           `yaml:"max_analyze"`
	MaxLrc        int           `yaml:"max_lrc"`
	EvictionGrace time.Duration `yaml:"eviction_grace"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the shared API key. Empty disables auth.
	APIKeyHash string `yaml:"api_key_hash"`
}

type InferenceConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

var validProviders = map[string]bool{
	"remote": true,
	"mock":   true,
}

// Default returns the built-in configuration before any file or environment
// overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			Env:       "development",
			RateLimit: 60,
		},
		Store: StoreConfig{
			Path:      "data/jobkeeper.db",
			Retention: 7 * 24 * time.Hour,
		},
		Jobs: JobsConfig{
			MaxAnalyze:    1,
			MaxLrc:        2,
			EvictionGrace: 5 * time.Minute,
		},
		Inference: InferenceConfig{
			Provider: "remote",
			Timeout:  30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by JOBKEEPER_CONFIG_FILE, and environment variables, in increasing order of
// precedence. Returns an error with a descriptive message if any value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("JOBKEEPER_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Port = envInt("JOBKEEPER_PORT", cfg.Server.Port)
	cfg.Server.Env = envString("JOBKEEPER_ENV", cfg.Server.Env)
	cfg.Server.RateLimit = envInt("JOBKEEPER_RATE_LIMIT", cfg.Server.RateLimit)

	cfg.Store.Path = envString("JOBKEEPER_DB_PATH", cfg.Store.Path)
	cfg.Store.Retention = envDuration("JOBKEEPER_RETENTION", cfg.Store.Retention)
	cfg.Store.SweepInterval = envDuration("JOBKEEPER_SWEEP_INTERVAL", cfg.Store.SweepInterval)

	cfg.Jobs.MaxAnalyze = envInt("JOBKEEPER_MAX_ANALYZE", cfg.Jobs.MaxAnalyze)
	cfg.Jobs.MaxLrc = envInt("JOBKEEPER_MAX_LRC", cfg.Jobs.MaxLrc)
	cfg.Jobs.EvictionGrace = envDuration("JOBKEEPER_EVICTION_GRACE", cfg.Jobs.EvictionGrace)

	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)
	cfg.Auth.APIKeyHash = envString("JOBKEEPER_API_KEY_HASH", cfg.Auth.APIKeyHash)

	cfg.Inference.Provider = envString("INFERENCE_PROVIDER", cfg.Inference.Provider)
	cfg.Inference.BaseURL = envString("INFERENCE_BASE_URL", cfg.Inference.BaseURL)
	cfg.Inference.Token = envString("INFERENCE_TOKEN", cfg.Inference.Token)
	cfg.Inference.Timeout = envDuration("INFERENCE_TIMEOUT", cfg.Inference.Timeout)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("JOBKEEPER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("JOBKEEPER_RATE_LIMIT must not be negative, got %d", c.Server.RateLimit)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("JOBKEEPER_DB_PATH is required")
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("JOBKEEPER_RETENTION must not be negative, got %s", c.Store.Retention)
	}
	if c.Store.SweepInterval < 0 {
		return fmt.Errorf("JOBKEEPER_SWEEP_INTERVAL must not be negative, got %s", c.Store.SweepInterval)
	}

	if c.Jobs.MaxAnalyze < 1 {
		return fmt.Errorf("JOBKEEPER_MAX_ANALYZE must be at least 1, got %d", c.Jobs.MaxAnalyze)
	}
	if c.Jobs.MaxLrc < 1 {
		return fmt.Errorf("JOBKEEPER_MAX_LRC must be at least 1, got %d", c.Jobs.MaxLrc)
	}
	if c.Jobs.EvictionGrace < 0 {
		return fmt.Errorf("JOBKEEPER_EVICTION_GRACE must not be negative, got %s", c.Jobs.EvictionGrace)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of remote, mock; got %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "remote" {
		if c.Inference.BaseURL == "" {
			return fmt.Errorf("INFERENCE_BASE_URL is required when INFERENCE_PROVIDER is remote")
		}
		if !strings.HasPrefix(c.Inference.BaseURL, "http://") && !strings.HasPrefix(c.Inference.BaseURL, "https://") {
			return fmt.Errorf("INFERENCE_BASE_URL must start with http:// or https://, got %q", c.Inference.BaseURL)
		}
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive, got %s", c.Inference.Timeout)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
