// pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env string

	// Remote quantum-job API.
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Identity defaults; interactive prompts fill in anything missing.
	Username string
	Provider string // "" for native login, else a federated idp name

	// Machine catalog cache.
	MachineCacheTTL time.Duration

	// Optional shared token cache (opt-in; empty disables it).
	RedisURL string

	MetricsEnabled bool
}

// Load reads configuration from the environment (a .env file is honored
// when present) and then overlays an optional YAML file named by
// QJOB_CONFIG_FILE. It never fails; absent keys get defaults.
func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:             env("QJOB_ENV", "dev"),
		APIBaseURL:      env("QJOB_API_URL", "https://qapi.quantum.example.com/v1"),
		HTTPTimeout:     envDur("QJOB_HTTP_TIMEOUT_SEC", 30) * time.Second,
		Username:        env("QJOB_USERNAME", ""),
		Provider:        env("QJOB_PROVIDER", ""),
		MachineCacheTTL: envDur("QJOB_MACHINE_CACHE_TTL_SEC", 300) * time.Second,
		RedisURL:        env("REDIS_URL", ""),
		MetricsEnabled:  envBool("QJOB_METRICS", true),
	}
	if path := os.Getenv("QJOB_CONFIG_FILE"); path != "" {
		cfg.overlayFile(path)
	}
	return cfg
}

// fileConfig mirrors the YAML config file schema. Only set fields
// override the environment.
type fileConfig struct {
	Env             string `yaml:"env"`
	APIBaseURL      string `yaml:"api_url"`
	HTTPTimeoutSec  int    `yaml:"http_timeout_sec"`
	Username        string `yaml:"username"`
	Provider        string `yaml:"provider"`
	MachineCacheTTL int    `yaml:"machine_cache_ttl_sec"`
	RedisURL        string `yaml:"redis_url"`
}

func (c *Config) overlayFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return
	}
	if fc.Env != "" {
		c.Env = fc.Env
	}
	if fc.APIBaseURL != "" {
		c.APIBaseURL = fc.APIBaseURL
	}
	if fc.HTTPTimeoutSec > 0 {
		c.HTTPTimeout = time.Duration(fc.HTTPTimeoutSec) * time.Second
	}
	if fc.Username != "" {
		c.Username = fc.Username
	}
	if fc.Provider != "" {
		c.Provider = fc.Provider
	}
	if fc.MachineCacheTTL > 0 {
		c.MachineCacheTTL = time.Duration(fc.MachineCacheTTL) * time.Second
	}
	if fc.RedisURL != "" {
		c.RedisURL = fc.RedisURL
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
