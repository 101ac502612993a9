// Package main is the entry point for the outbound transport sender.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/avtransport/internal/certwatch"
	"github.com/vyrodovalexey/avtransport/internal/config"
	"github.com/vyrodovalexey/avtransport/internal/observability"
	"github.com/vyrodovalexey/avtransport/internal/outbound"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	registry := initRegistry(cfg, logger)

	runSender(registry, cfg, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("TRANSPORT_CONFIG_PATH", "configs/transport.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("TRANSPORT_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("TRANSPORT_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("avtransport version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) *zap.Logger {
	logger, err := observability.NewZapLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(observability.WrapZap(logger))
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger *zap.Logger) *config.TransportConfig {
	logger.Info("starting avtransport",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("max_connections_per_route", cfg.Sender.MaxConnectionsPerRoute),
		zap.Duration("connect_timeout", cfg.Sender.ConnectTimeout.Duration()),
		zap.Duration("idle_timeout", cfg.Lifecycle.IdleTimeout.Duration()),
		zap.Duration("max_lifespan", cfg.Lifecycle.MaxLifespan.Duration()),
		zap.String("buffers", cfg.Buffers.Kind),
		zap.Bool("breaker", cfg.Breaker.Enabled),
	)

	return cfg
}

// initRegistry builds the connection registry from configuration.
func initRegistry(cfg *config.TransportConfig, logger *zap.Logger) *outbound.Registry {
	buffers, err := outbound.NewBufferPool(cfg.Buffers.Kind, cfg.Buffers.Size)
	if err != nil {
		logger.Fatal("failed to create buffer pool", zap.Error(err))
	}

	tlsConfig, err := buildTLSConfig(cfg.Sender.TLS)
	if err != nil {
		logger.Fatal("failed to build TLS configuration", zap.Error(err))
	}

	connector := outbound.NewDialConnector(cfg.Sender.ConnectTimeout.Duration(), tlsConfig, logger)

	settings := outbound.Settings{
		MaxConnectionsPerRoute: cfg.Sender.MaxConnectionsPerRoute,
		Lifecycle: outbound.Lifecycle{
			IdleTimeout: cfg.Lifecycle.IdleTimeout.Duration(),
			MaxLifespan: cfg.Lifecycle.MaxLifespan.Duration(),
			GracePeriod: cfg.Lifecycle.GracePeriod.Duration(),
		},
		Buffers: buffers,
	}
	if cfg.Breaker.Enabled {
		settings.Breaker = &outbound.BreakerSettings{
			MaxRequests: uint32(cfg.Breaker.MaxRequests),
			Interval:    cfg.Breaker.Interval.Duration(),
			Timeout:     cfg.Breaker.Timeout.Duration(),
		}
	}

	return outbound.NewRegistry(connector, settings, logger)
}

// buildTLSConfig builds the dialer TLS config for secure routes. Nil
// when nothing is customized, letting the connector use its default.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.InsecureSkipVerify && cfg.RootCAPath == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // config-driven, off by default
	}

	if cfg.RootCAPath != "" {
		pem, err := os.ReadFile(cfg.RootCAPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.RootCAPath)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// runSender runs the sender and handles shutdown.
func runSender(registry *outbound.Registry, cfg *config.TransportConfig, logger *zap.Logger) {
	startMetricsServerIfEnabled(cfg, logger)
	watcher := startResetWatcher(registry, cfg, logger)

	waitForShutdown(registry, watcher, logger)
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(cfg *config.TransportConfig, logger *zap.Logger) {
	if cfg.Metrics.ListenAddr == "" {
		return
	}
	go startMetricsServer(cfg.Metrics.ListenAddr, logger)
}

// startResetWatcher starts the reset descriptor watcher when configured.
func startResetWatcher(registry *outbound.Registry, cfg *config.TransportConfig, logger *zap.Logger) *certwatch.Watcher {
	if cfg.ResetWatch.Path == "" {
		return nil
	}

	watcher, err := certwatch.NewWatcher(cfg.ResetWatch.Path, registry.ResetConnectionPool,
		certwatch.WithLogger(observability.WrapZap(logger)),
	)
	if err != nil {
		logger.Warn("failed to create reset descriptor watcher", zap.Error(err))
		return nil
	}

	if err := watcher.Start(); err != nil {
		logger.Warn("failed to start reset descriptor watcher", zap.Error(err))
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal and tears everything down.
func waitForShutdown(registry *outbound.Registry, watcher *certwatch.Watcher, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if watcher != nil {
		_ = watcher.Stop()
	}

	registry.Shutdown()

	logger.Info("sender stopped")
}

// startMetricsServer starts the metrics HTTP server.
func startMetricsServer(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("starting metrics server", zap.String("address", addr))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
