package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), a .env file if present, and DUEL_* environment variables.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "DUEL_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "DUEL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DUEL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DUEL_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.CommandLimit, "DUEL_SERVER_COMMAND_LIMIT")

	setStr(&cfg.Auth.JWTSecret, "DUEL_AUTH_JWT_SECRET")

	setStringSlice(&cfg.Match.Assets, "DUEL_MATCH_ASSETS")
	setStringSlice(&cfg.Match.DefaultAssets, "DUEL_MATCH_DEFAULT_ASSETS")
	setStr(&cfg.Match.MinStake, "DUEL_MATCH_MIN_STAKE")
	setStr(&cfg.Match.MaxStake, "DUEL_MATCH_MAX_STAKE")
	setInt(&cfg.Match.MaxDurationSeconds, "DUEL_MATCH_MAX_DURATION_SECONDS")
	setDuration(&cfg.Match.CompletedRetention, "DUEL_MATCH_COMPLETED_RETENTION")

	setStr(&cfg.Price.Source, "DUEL_PRICE_SOURCE")
	setDuration(&cfg.Price.RefreshInterval, "DUEL_PRICE_REFRESH_INTERVAL")
	setStr(&cfg.Price.HTTPBaseURL, "DUEL_PRICE_HTTP_BASE_URL")
	setStr(&cfg.Price.APIKey, "DUEL_PRICE_API_KEY")
	setFloat64(&cfg.Price.Volatility, "DUEL_PRICE_VOLATILITY")

	setStr(&cfg.Redis.Addr, "DUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DUEL_REDIS_DB")

	setStr(&cfg.Store.DSN, "DUEL_STORE_DSN")

	setStr(&cfg.LogLevel, "DUEL_LOG_LEVEL")
	setStr(&cfg.LogFormat, "DUEL_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
