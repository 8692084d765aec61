// Package config defines the server configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from an optional TOML file
// and are then overridden by DUEL_* environment variables.
type Config struct {
	Server    ServerConfig `toml:"server"`
	Auth      AuthConfig   `toml:"auth"`
	Match     MatchConfig  `toml:"match"`
	Price     PriceConfig  `toml:"price"`
	Redis     RedisConfig  `toml:"redis"`
	Store     StoreConfig  `toml:"store"`
	LogLevel  string       `toml:"log_level"`
	LogFormat string       `toml:"log_format"`
}

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      Duration `toml:"rate_window"`
	CommandLimit    int      `toml:"command_limit"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// AuthConfig controls the WebSocket auth handshake. An empty JWTSecret
// accepts a bare address.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// MatchConfig bounds what players can create.
type MatchConfig struct {
	Assets             []string `toml:"assets"`
	DefaultAssets      []string `toml:"default_assets"`
	MinStake           string   `toml:"min_stake"`
	MaxStake           string   `toml:"max_stake"`
	MaxDurationSeconds int      `toml:"max_duration_seconds"`
	CompletedRetention Duration `toml:"completed_retention"`
	SweepInterval      Duration `toml:"sweep_interval"`
}

// PriceConfig selects and tunes the price source.
type PriceConfig struct {
	Source          string            `toml:"source"`
	RefreshInterval Duration          `toml:"refresh_interval"`
	FetchTimeout    Duration          `toml:"fetch_timeout"`
	HTTPBaseURL     string            `toml:"http_base_url"`
	APIKey          string            `toml:"api_key"`
	CoinIDs         map[string]string `toml:"coin_ids"`
	Seed            map[string]string `toml:"seed"`
	Volatility      float64           `toml:"volatility"`
}

// RedisConfig points at the Redis instance an external oracle writes to.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// StoreConfig locates the settlement archive.
type StoreConfig struct {
	DSN string `toml:"dsn"`
}

// Duration wraps time.Duration so TOML strings like "10s" decode.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"json": true, "console": true}
	validPriceSource = map[string]bool{"synthetic": true, "http": true, "redis": true}
)

// Defaults returns a configuration that runs locally with synthetic prices
// and an in-memory archive.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8088",
			RateLimit:       100,
			RateWindow:      Duration{time.Minute},
			CommandLimit:    30,
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Match: MatchConfig{
			Assets:             []string{"eth", "btc", "sol"},
			MinStake:           "0.001",
			MaxDurationSeconds: 3600,
			CompletedRetention: Duration{time.Hour},
			SweepInterval:      Duration{time.Minute},
		},
		Price: PriceConfig{
			Source:          "synthetic",
			RefreshInterval: Duration{10 * time.Second},
			FetchTimeout:    Duration{10 * time.Second},
			HTTPBaseURL:     "https://api.coingecko.com/api/v3",
			Seed: map[string]string{
				"eth": "2000",
				"btc": "60000",
				"sol": "150",
			},
			Volatility: 0.002,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Store: StoreConfig{
			DSN: ":memory:",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// SeedPrices parses the configured seed prices.
func (c *Config) SeedPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Price.Seed))
	for asset, raw := range c.Price.Seed {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price.seed.%s: %w", asset, err)
		}
		out[asset] = p
	}
	return out, nil
}

// StakeBounds parses min_stake and max_stake. Empty values are zero.
func (c *Config) StakeBounds() (minStake, maxStake decimal.Decimal, err error) {
	if c.Match.MinStake != "" {
		if minStake, err = decimal.NewFromString(c.Match.MinStake); err != nil {
			return minStake, maxStake, fmt.Errorf("match.min_stake: %w", err)
		}
	}
	if c.Match.MaxStake != "" {
		if maxStake, err = decimal.NewFromString(c.Match.MaxStake); err != nil {
			return minStake, maxStake, fmt.Errorf("match.max_stake: %w", err)
		}
	}
	return minStake, maxStake, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, console)", c.LogFormat))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit and rate_window must be positive")
	}
	if c.Server.CommandLimit <= 0 {
		errs = append(errs, "server: command_limit must be positive")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	if len(c.Match.Assets) == 0 {
		errs = append(errs, "match: assets must not be empty")
	}
	universe := make(map[string]bool, len(c.Match.Assets))
	for _, a := range c.Match.Assets {
		universe[strings.ToLower(a)] = true
	}
	for _, a := range c.Match.DefaultAssets {
		if !universe[strings.ToLower(a)] {
			errs = append(errs, fmt.Sprintf("match: default asset %q is not in assets", a))
		}
	}
	minStake, maxStake, err := c.StakeBounds()
	if err != nil {
		errs = append(errs, err.Error())
	} else if maxStake.IsPositive() && minStake.GreaterThan(maxStake) {
		errs = append(errs, "match: min_stake exceeds max_stake")
	}
	if c.Match.MaxDurationSeconds < 0 {
		errs = append(errs, "match: max_duration_seconds must not be negative")
	}
	if c.Match.SweepInterval.Duration <= 0 {
		errs = append(errs, "match: sweep_interval must be positive")
	}

	if !validPriceSource[strings.ToLower(c.Price.Source)] {
		errs = append(errs, fmt.Sprintf("price: unknown source %q (valid: synthetic, http, redis)", c.Price.Source))
	}
	if c.Price.RefreshInterval.Duration <= 0 {
		errs = append(errs, "price: refresh_interval must be positive")
	}
	seed, err := c.SeedPrices()
	if err != nil {
		errs = append(errs, err.Error())
	}
	for _, a := range c.Match.Assets {
		if p, ok := seed[strings.ToLower(a)]; !ok || !p.IsPositive() {
			errs = append(errs, fmt.Sprintf("price: seed price for %q must be positive", a))
		}
	}
	if strings.EqualFold(c.Price.Source, "http") && c.Price.HTTPBaseURL == "" {
		errs = append(errs, "price: http_base_url is required for the http source")
	}
	if strings.EqualFold(c.Price.Source, "redis") && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required for the redis source")
	}

	if c.Store.DSN == "" {
		errs = append(errs, "store: dsn must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
