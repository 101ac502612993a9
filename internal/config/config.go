// Package config provides configuration types and loading for the
// outbound transport sender.
package config

import "time"

// TransportConfig is the root configuration for the transport sender.
type TransportConfig struct {
	Sender     SenderConfig     `yaml:"sender"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Buffers    BufferConfig     `yaml:"buffers"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	ResetWatch ResetWatchConfig `yaml:"resetWatch"`
}

// SenderConfig configures the outbound sender.
type SenderConfig struct {
	// MaxConnectionsPerRoute bounds pending+idle+active connections for
	// each distinct route.
	MaxConnectionsPerRoute int `yaml:"maxConnectionsPerRoute"`

	// ConnectTimeout bounds a single connect attempt. Enforced by the
	// connector, not by the pools.
	ConnectTimeout Duration `yaml:"connectTimeout"`

	// TLS configures outbound TLS for secure routes.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures the dialer's TLS behaviour for secure routes.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Test rigs only.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`

	// RootCAPath is a PEM bundle of additional trusted roots. Empty uses
	// the system pool.
	RootCAPath string `yaml:"rootCAPath"`
}

// LifecycleConfig holds the connection lifecycle durations. Read once at
// startup and shared read-only by every pool.
type LifecycleConfig struct {
	// IdleTimeout evicts idle connections that have not been used for
	// this long.
	IdleTimeout Duration `yaml:"idleTimeout"`

	// MaxLifespan evicts any connection older than this, idle or not.
	MaxLifespan Duration `yaml:"maxLifespan"`

	// GracePeriod is the drain window before forced closure during an
	// administrative reset.
	GracePeriod Duration `yaml:"gracePeriod"`
}

// BufferConfig configures the I/O buffer pool.
type BufferConfig struct {
	// Kind selects the buffer pool implementation: "pooled" or "unpooled".
	Kind string `yaml:"kind"`

	// Size is the byte size of each leased buffer.
	Size int `yaml:"size"`
}

// BreakerConfig configures the per-route connect circuit breaker.
type BreakerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxRequests int      `yaml:"maxRequests"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// ResetWatchConfig configures the reset-descriptor file watcher used to
// force reconnection on certificate rotation.
type ResetWatchConfig struct {
	// Path of the descriptor file. Empty disables the watcher.
	Path string `yaml:"path"`
}

// DefaultConfig returns a TransportConfig with production defaults.
func DefaultConfig() *TransportConfig {
	return &TransportConfig{
		Sender: SenderConfig{
			MaxConnectionsPerRoute: 64,
			ConnectTimeout:         Duration(10 * time.Second),
		},
		Lifecycle: LifecycleConfig{
			IdleTimeout: Duration(90 * time.Second),
			MaxLifespan: Duration(10 * time.Minute),
			GracePeriod: Duration(5 * time.Second),
		},
		Buffers: BufferConfig{
			Kind: "pooled",
			Size: 32 * 1024,
		},
		Breaker: BreakerConfig{
			Enabled:     false,
			MaxRequests: 3,
			Interval:    Duration(60 * time.Second),
			Timeout:     Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9095",
		},
	}
}
