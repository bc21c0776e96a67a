package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Feed.Venue = "binance"
	cfg.Feed.Base = "btc"
	cfg.Feed.Quote = "usdt"
	return cfg
}

func TestValidateNormalisesCase(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Venue = "Binance"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "binance", cfg.Feed.Venue)
	assert.Equal(t, "BTC", cfg.Feed.Base)
	assert.Equal(t, "USDT", cfg.Feed.Quote)
	assert.Equal(t, "BTC-USDT", cfg.Symbol())
}

func TestValidateRejectsUnknownVenue(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Venue = "deribit"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadDepth(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.DepthLevel = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Feed.DepthLevel = -5
	assert.Error(t, cfg.Validate())
}

func TestValidateBybitDepthSet(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Venue = "bybit"
	cfg.Feed.DepthLevel = 400
	assert.Error(t, cfg.Validate())

	cfg.Feed.DepthLevel = 50
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresPair(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Quote = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	data := []byte("feed:\n  venue: okx\n  base: ETH\n  quote: USDT\n  depth_level: 100\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "okx", cfg.Feed.Venue)
	assert.Equal(t, 100, cfg.Feed.DepthLevel)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched defaults survive
	assert.Equal(t, 10000, cfg.Feed.MaxBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	assert.Error(t, err)
}
