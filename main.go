package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"depthflow/config"
	"depthflow/internal/feed"
	"depthflow/internal/metrics"
	"depthflow/internal/sink"
	"depthflow/internal/venue"
	"depthflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to optional YAML configuration file")

	venueName := flag.String("venue", "", "Venue name (binance, okx, bybit, bitget, kucoin)")
	base := flag.String("base", "", "Base asset, e.g. BTC")
	quote := flag.String("quote", "", "Quote asset, e.g. USDT")
	depthLevel := flag.Int("depthLevel", 0, "Orderbook depth per side")

	wsHost := flag.String("ws_host", "", "Optional WebSocket host override")
	wsPort := flag.String("ws_port", "", "Optional WebSocket port override")
	wsPath := flag.String("ws_path", "", "Optional WebSocket path override")
	restHost := flag.String("rest_host", "", "Optional REST host override")
	restPort := flag.String("rest_port", "", "Optional REST port override")
	restPath := flag.String("rest_path", "", "Optional REST path override")

	debugOn := flag.Bool("debug", false, "Enable sampled hot-path tracing")
	debugRaw := flag.Bool("debug_raw", false, "Include truncated raw payloads in traces")
	debugEvery := flag.Int("debug_every", 0, "Trace one out of every N messages")
	debugRawMax := flag.Int("debug_raw_max", 0, "Max raw bytes per trace")
	debugTop := flag.Int("debug_top", 0, "Top-N levels to include in dumps")
	debugChecksum := flag.Bool("debug_checksum", true, "Include checksum fields in traces")
	debugSeq := flag.Bool("debug_seq", true, "Include sequence fields in traces")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	// CLI flags override file configuration
	if *venueName != "" {
		cfg.Feed.Venue = *venueName
	}
	if *base != "" {
		cfg.Feed.Base = *base
	}
	if *quote != "" {
		cfg.Feed.Quote = *quote
	}
	if *depthLevel != 0 {
		cfg.Feed.DepthLevel = *depthLevel
	}
	if *wsHost != "" {
		cfg.Feed.WSHost = *wsHost
	}
	if *wsPort != "" {
		cfg.Feed.WSPort = *wsPort
	}
	if *wsPath != "" {
		cfg.Feed.WSPath = *wsPath
	}
	if *restHost != "" {
		cfg.Feed.RestHost = *restHost
	}
	if *restPort != "" {
		cfg.Feed.RestPort = *restPort
	}
	if *restPath != "" {
		cfg.Feed.RestPath = *restPath
	}
	if *debugOn {
		cfg.Debug.Enabled = true
	}
	if *debugRaw {
		cfg.Debug.Raw = true
	}
	if *debugEvery > 0 {
		cfg.Debug.Every = *debugEvery
	}
	if *debugRawMax > 0 {
		cfg.Debug.RawMax = *debugRawMax
	}
	if *debugTop > 0 {
		cfg.Debug.TopLevels = *debugTop
	}
	cfg.Debug.ShowChecksum = *debugChecksum
	cfg.Debug.ShowSeq = *debugSeq

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Depthflow.Name,
		"version": cfg.Depthflow.Version,
		"venue":   cfg.Feed.Venue,
		"symbol":  cfg.Symbol(),
		"depth":   cfg.Feed.DepthLevel,
	}).Info("starting depthflow")

	adapter, err := venue.New(cfg.Feed.Venue)
	if err != nil {
		log.WithError(err).Error("Failed to create venue adapter")
		os.Exit(1)
	}

	snk, err := sink.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to create sink")
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	var publisher *metrics.CloudWatchPublisher
	if cfg.Metrics.Enabled {
		publisher, err = metrics.NewCloudWatchPublisher(cfg, collector, log)
		if err != nil {
			log.WithError(err).Warn("CloudWatch metrics disabled")
		} else {
			publisher.Start()
		}
	}

	handler, err := feed.New(cfg, adapter, snk, collector, log)
	if err != nil {
		log.WithError(err).Error("Failed to create feed handler")
		os.Exit(1)
	}

	if err := handler.Start(); err != nil {
		log.WithError(err).Error("Failed to start feed handler")
		os.Exit(2)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutting down")

	handler.Stop()
	if publisher != nil {
		publisher.Stop()
	}
	if err := snk.Close(); err != nil {
		log.WithError(err).Warn("sink close failed")
	}
}
