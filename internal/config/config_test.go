package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":memory:", cfg.Store.DSN)
	assert.Equal(t, "synthetic", cfg.Price.Source)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duel.toml")
	content := `
log_level = "debug"

[server]
addr = ":9000"
cors_origins = ["https://duel.example.com"]

[match]
assets = ["eth", "btc"]
max_stake = "100"
completed_retention = "30m"

[price]
source = "http"
refresh_interval = "5s"

[price.seed]
eth = "2100"
btc = "65000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://duel.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"eth", "btc"}, cfg.Match.Assets)
	assert.Equal(t, 30*time.Minute, cfg.Match.CompletedRetention.Duration)
	assert.Equal(t, 5*time.Second, cfg.Price.RefreshInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Server.RateLimit)

	minStake, maxStake, err := cfg.StakeBounds()
	require.NoError(t, err)
	assert.Equal(t, "0.001", minStake.String())
	assert.Equal(t, "100", maxStake.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DUEL_SERVER_ADDR", ":7000")
	t.Setenv("DUEL_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("DUEL_MATCH_ASSETS", "eth, sol ,")
	t.Setenv("DUEL_PRICE_REFRESH_INTERVAL", "2s")
	t.Setenv("DUEL_REDIS_DB", "3")
	t.Setenv("DUEL_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"eth", "sol"}, cfg.Match.Assets)
	assert.Equal(t, 2*time.Second, cfg.Price.RefreshInterval.Duration)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 100, cfg.Server.RateLimit, "unparseable override is ignored")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Price.Source = "carrier-pigeon"
	cfg.Match.MinStake = "10"
	cfg.Match.MaxStake = "1"
	cfg.Match.DefaultAssets = []string{"doge"}
	cfg.Price.Seed["sol"] = "0"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "unknown source")
	assert.Contains(t, msg, "min_stake exceeds max_stake")
	assert.Contains(t, msg, `default asset "doge"`)
	assert.Contains(t, msg, `seed price for "sol"`)
}

func TestValidateBadDecimal(t *testing.T) {
	cfg := Defaults()
	cfg.Match.MaxStake = "lots"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match.max_stake")
}
