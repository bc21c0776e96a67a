package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Venue names accepted by --venue.
const (
	VenueBinance = "binance"
	VenueOKX     = "okx"
	VenueBybit   = "bybit"
	VenueBitget  = "bitget"
	VenueKucoin  = "kucoin"
)

var knownVenues = map[string]bool{
	VenueBinance: true,
	VenueOKX:     true,
	VenueBybit:   true,
	VenueBitget:  true,
	VenueKucoin:  true,
}

// bybit public spot orderbook stream only supports these depths
var bybitDepths = map[int]bool{1: true, 50: true, 200: true}

type Config struct {
	Depthflow Depthflow `yaml:"depthflow"`
	Feed      Feed      `yaml:"feed"`
	WS        WS        `yaml:"ws"`
	Rest      Rest      `yaml:"rest"`
	Reconnect Reconnect `yaml:"reconnect"`
	Sink      Sink      `yaml:"sink"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
	Debug     Debug     `yaml:"debug"`
}

type Depthflow struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Feed selects the (venue, pair) a handler instance maintains and the
// endpoint overrides. Empty overrides mean venue defaults.
type Feed struct {
	Venue      string `yaml:"venue"`
	Base       string `yaml:"base"`
	Quote      string `yaml:"quote"`
	DepthLevel int    `yaml:"depth_level"`

	WSHost   string `yaml:"ws_host"`
	WSPort   string `yaml:"ws_port"`
	WSPath   string `yaml:"ws_path"`
	RestHost string `yaml:"rest_host"`
	RestPort string `yaml:"rest_port"`
	RestPath string `yaml:"rest_path"`

	MaxBuffer         int           `yaml:"max_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	BookStateInterval time.Duration `yaml:"book_state_interval"`
}

type WS struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type Rest struct {
	Timeout           time.Duration `yaml:"timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	KeepAlive         bool          `yaml:"keep_alive"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay"`
}

type Reconnect struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type Sink struct {
	File    FileSink    `yaml:"file"`
	Parquet ParquetSink `yaml:"parquet"`
	S3      S3Sink      `yaml:"s3"`
}

type FileSink struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ParquetSink struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

type S3Sink struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type Metrics struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Debug controls the sampled hot-path trace output.
type Debug struct {
	Enabled      bool `yaml:"enabled"`
	Raw          bool `yaml:"raw"`
	Every        int  `yaml:"every"`
	RawMax       int  `yaml:"raw_max"`
	TopLevels    int  `yaml:"top_levels"`
	ShowChecksum bool `yaml:"show_checksum"`
	ShowSeq      bool `yaml:"show_seq"`
}

// Default returns the built-in configuration. CLI flags and an optional
// YAML file override it.
func Default() *Config {
	return &Config{
		Depthflow: Depthflow{Name: "depthflow", Version: "1.0.0"},
		Feed: Feed{
			DepthLevel:        400,
			MaxBuffer:         10000,
			HeartbeatInterval: 30 * time.Second,
			BookStateInterval: 0,
		},
		WS: WS{
			ConnectTimeout: 10 * time.Second,
			PingInterval:   0,
			WriteTimeout:   5 * time.Second,
		},
		Rest: Rest{
			Timeout:           5 * time.Second,
			ShutdownTimeout:   200 * time.Millisecond,
			KeepAlive:         true,
			RequestsPerSecond: 5,
			Burst:             2,
			RateLimitDelay:    750 * time.Millisecond,
		},
		Reconnect: Reconnect{
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2,
			MaxAttempts: 25,
		},
		Metrics: Metrics{
			Namespace: "Depthflow",
			Interval:  time.Minute,
		},
		Logging: Logging{Level: "info", Format: "json", Output: "stdout"},
		Debug: Debug{
			Every:        200,
			RawMax:       512,
			TopLevels:    3,
			ShowChecksum: true,
			ShowSeq:      true,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the feed selection. Venue endpoint defaults and depth
// clamping live in the venue adapters; validation here rejects what no
// adapter can serve.
func (c *Config) Validate() error {
	c.Feed.Venue = strings.ToLower(strings.TrimSpace(c.Feed.Venue))
	c.Feed.Base = strings.ToUpper(strings.TrimSpace(c.Feed.Base))
	c.Feed.Quote = strings.ToUpper(strings.TrimSpace(c.Feed.Quote))

	if c.Feed.Venue == "" {
		return fmt.Errorf("venue is required")
	}
	if !knownVenues[c.Feed.Venue] {
		return fmt.Errorf("unknown venue %q, expected one of: binance, okx, bybit, bitget, kucoin", c.Feed.Venue)
	}
	if c.Feed.Base == "" || c.Feed.Quote == "" {
		return fmt.Errorf("base and quote assets are required")
	}
	if c.Feed.DepthLevel <= 0 {
		return fmt.Errorf("depth_level must be > 0 (got %d)", c.Feed.DepthLevel)
	}
	if c.Feed.Venue == VenueBybit && !bybitDepths[c.Feed.DepthLevel] {
		return fmt.Errorf("bybit spot depth must be one of 1, 50, 200 (got %d)", c.Feed.DepthLevel)
	}
	if c.Feed.MaxBuffer <= 0 {
		return fmt.Errorf("max_buffer must be > 0 (got %d)", c.Feed.MaxBuffer)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1")
	}
	return nil
}

// Symbol returns the canonical "BASE-QUOTE" pair string used in logs and
// persisted records.
func (c *Config) Symbol() string {
	return c.Feed.Base + "-" + c.Feed.Quote
}
