package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Upstream identifiers. Each logical oracle gets one name; quotas and
// rate-limit usage are keyed by these.
const (
	UpstreamCrypto     = "coingecko"
	UpstreamFX         = "frankfurter"
	UpstreamMarketData = "alphavantage"
)

// MarketDataAPIKeyEnv is the environment variable holding the
// market-data vendor credential. Requests to that upstream fail with a
// configuration error when it is empty.
const MarketDataAPIKeyEnv = "ALPHAVANTAGE_API_KEY"

// UpstreamURLs holds the base URLs of the three oracles. Overridable so
// tests and air-gapped deployments can point at a mock server.
type UpstreamURLs struct {
	Crypto     string `yaml:"crypto"`
	FX         string `yaml:"fx"`
	MarketData string `yaml:"market_data"`
}

// Config holds all tunables. It is resolved once at startup from the
// YAML file plus environment overrides and never mutated afterwards.
type Config struct {
	// TTL drawn uniformly from [TTLMin, TTLMax] on every cache write
	TTLMin time.Duration `yaml:"ttl_min"`
	TTLMax time.Duration `yaml:"ttl_max"`

	// RefreshThreshold is the remaining-TTL value below which the
	// scheduler proactively re-fetches an entry
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`

	// SchedulerInterval is the period between refresh ticks
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	// SeedOnStartup fetches every known key before the server starts
	SeedOnStartup bool `yaml:"seed_on_startup"`

	// Quotas caps requests per upstream within RateLimitWindow;
	// upstreams absent from the map are unmetered
	Quotas          map[string]int `yaml:"quotas"`
	RateLimitWindow time.Duration  `yaml:"rate_limit_window"`

	// Retry policy for upstream calls
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	MarketDataAPIKey string `yaml:"market_data_api_key"`

	// Key set. CryptoKey and FXKey name the two scalar products;
	// MarketKeys lists the quote tickers in their fetch order.
	CryptoKey  string   `yaml:"crypto_key"`
	FXKey      string   `yaml:"fx_key"`
	MarketKeys []string `yaml:"market_keys"`

	Upstreams UpstreamURLs `yaml:"upstreams"`

	// Fallbacks substitute for keys that end up with neither a fresh
	// nor a stale value. Scalar keys use the number directly; quote
	// keys wrap it as {price: n}.
	Fallbacks map[string]float64 `yaml:"fallbacks"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		TTLMin:            5 * time.Minute,
		TTLMax:            10 * time.Minute,
		RefreshThreshold:  60 * time.Second,
		SchedulerInterval: 30 * time.Second,
		SeedOnStartup:     true,
		Quotas: map[string]int{
			UpstreamMarketData: 5,
		},
		RateLimitWindow: 60 * time.Second,
		MaxRetries:      5,
		BaseDelay:       16 * time.Second,
		RequestTimeout:  5 * time.Second,
		Port:            3001,
		LogLevel:        "info",
		CryptoKey:       "btc",
		FXKey:           "eurUsd",
		MarketKeys:      []string{"MSTR", "STRF", "STRC", "STRK", "STRD"},
		Upstreams: UpstreamURLs{
			Crypto:     "https://api.coingecko.com",
			FX:         "https://api.frankfurter.app",
			MarketData: "https://www.alphavantage.co",
		},
		Fallbacks: map[string]float64{
			"btc":    100000,
			"eurUsd": 1.05,
			"MSTR":   420,
			"STRF":   100,
			"STRC":   100,
			"STRK":   85,
			"STRD":   85,
		},
	}
}

// Load reads the YAML config at path, falling back to defaults when the
// file does not exist, then applies environment overrides and
// validates. A .env file in the working directory is honoured.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MarketDataAPIKey = getEnv(MarketDataAPIKeyEnv, c.MarketDataAPIKey)
	c.SeedOnStartup = getEnvAsBool("SEED_ON_STARTUP", c.SeedOnStartup)
}

// Validate checks the cross-field constraints the refresh guarantees
// depend on.
func (c *Config) Validate() error {
	if c.TTLMin <= 0 || c.TTLMax < c.TTLMin {
		return fmt.Errorf("ttl range invalid: min=%v max=%v", c.TTLMin, c.TTLMax)
	}
	// Equal threshold and TTLMin is degenerate but allowed: every
	// entry refreshes on every tick.
	if c.RefreshThreshold > c.TTLMin {
		return fmt.Errorf("refresh_threshold %v must not exceed ttl_min %v", c.RefreshThreshold, c.TTLMin)
	}
	if c.SchedulerInterval <= 0 || c.SchedulerInterval >= c.RefreshThreshold {
		return fmt.Errorf("scheduler_interval %v must be below refresh_threshold %v", c.SchedulerInterval, c.RefreshThreshold)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive, got %v", c.RateLimitWindow)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base_delay must not be negative, got %v", c.BaseDelay)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CryptoKey == "" || c.FXKey == "" {
		return fmt.Errorf("crypto_key and fx_key must be set")
	}
	if len(c.MarketKeys) == 0 {
		return fmt.Errorf("at least one market key must be configured")
	}
	return nil
}

// Keys returns every known key: the two scalar keys followed by the
// market tickers in their configured order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.MarketKeys)+2)
	keys = append(keys, c.CryptoKey, c.FXKey)
	keys = append(keys, c.MarketKeys...)
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
