// Package config loads service configuration from a YAML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crypto-feature-store/internal/domain"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Assets   []AssetConfig  `yaml:"assets"`
	Storage  StorageConfig  `yaml:"storage"`
	Source   SourceConfig   `yaml:"source"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	API      APIConfig      `yaml:"api"`
}

type AssetConfig struct {
	ID         string `yaml:"id"`
	CoinID     string `yaml:"coin_id"`
	VsCurrency string `yaml:"vs_currency"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"` // optional feature mirror
	Migrate       bool   `yaml:"migrate"`
}

type SourceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	LookbackDays int           `yaml:"lookback_days"`
}

// RedisConfig enables the distributed run lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type PipelineConfig struct {
	Interval        time.Duration `yaml:"interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Parallelism     int           `yaml:"parallelism"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration: BTC from CoinGecko into memory, hourly.
func Default() *Config {
	return &Config{
		Assets: []AssetConfig{{ID: "BTC", CoinID: "bitcoin", VsCurrency: "usd"}},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Source: SourceConfig{
			BaseURL:      "https://api.coingecko.com/api/v3",
			Timeout:      10 * time.Second,
			LookbackDays: 1,
		},
		Redis: RedisConfig{
			LockTTL: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Interval:        time.Hour,
			MaxAttempts:     3,
			InitialInterval: 5 * time.Second,
			MaxInterval:     time.Minute,
		},
		API: APIConfig{
			Addr: ":8000",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped when empty)
// and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from .env files into the process environment.
// Variables already set are not overridden. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString("STORAGE_BACKEND", &c.Storage.Backend)
	setString("POSTGRES_DSN", &c.Storage.PostgresDSN)
	setString("CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	setString("COINGECKO_BASE_URL", &c.Source.BaseURL)
	setString("COINGECKO_API_KEY", &c.Source.APIKey)
	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("API_ADDR", &c.API.Addr)

	if v := getenv("PIPELINE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_INTERVAL: %w", err)
		}
		c.Pipeline.Interval = d
	}
	if v := getenv("LOOKBACK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOOKBACK_DAYS: %w", err)
		}
		c.Source.LookbackDays = n
	}
	if v := getenv("ASSETS"); v != "" {
		assets, err := ParseAssets(v)
		if err != nil {
			return fmt.Errorf("ASSETS: %w", err)
		}
		c.Assets = assets
	}

	// A DSN without an explicit backend selects postgres.
	if getenv("STORAGE_BACKEND") == "" && getenv("POSTGRES_DSN") != "" {
		c.Storage.Backend = BackendPostgres
	}
	return nil
}

// ParseAssets parses "ID:coin_id:vs_currency" entries separated by commas.
// vs_currency defaults to usd.
func ParseAssets(s string) ([]AssetConfig, error) {
	var assets []AssetConfig
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid asset %q, want ID:coin_id[:vs_currency]", item)
		}
		a := AssetConfig{ID: parts[0], CoinID: parts[1], VsCurrency: "usd"}
		if len(parts) == 3 {
			a.VsCurrency = parts[2]
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// DomainAssets converts the asset list.
func (c *Config) DomainAssets() []domain.Asset {
	out := make([]domain.Asset, len(c.Assets))
	for i, a := range c.Assets {
		out[i] = domain.Asset{ID: a.ID, CoinID: a.CoinID, VsCurrency: a.VsCurrency}
	}
	return out
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Assets) == 0 {
		errs = append(errs, errors.New("at least one asset is required"))
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.DomainAssets() {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[a.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate asset id %s", a.ID))
		}
		seen[a.ID] = struct{}{}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres backend requires postgres_dsn (POSTGRES_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Source.LookbackDays < 1 {
		errs = append(errs, errors.New("source.lookback_days must be at least 1"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("source.timeout must be positive"))
	}
	if c.Pipeline.Interval <= 0 {
		errs = append(errs, errors.New("pipeline.interval must be positive"))
	}
	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, errors.New("pipeline.max_attempts must be at least 1"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive"))
	}

	return errors.Join(errs...)
}
