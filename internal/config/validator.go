package config

import (
	"github.com/vyrodovalexey/avtransport/internal/util"
)

// bufferKinds enumerates the valid buffer pool implementations.
var bufferKinds = map[string]bool{
	"pooled":   true,
	"unpooled": true,
}

// ValidateConfig validates a TransportConfig, returning the first
// violation found as a *util.ConfigError.
func ValidateConfig(cfg *TransportConfig) error {
	if cfg == nil {
		return &util.ConfigError{Message: "configuration is nil"}
	}

	if cfg.Sender.MaxConnectionsPerRoute <= 0 {
		return &util.ConfigError{
			Field:   "sender.maxConnectionsPerRoute",
			Message: "must be positive",
		}
	}

	if cfg.Sender.ConnectTimeout.Duration() <= 0 {
		return &util.ConfigError{
			Field:   "sender.connectTimeout",
			Message: "must be positive",
		}
	}

	if cfg.Lifecycle.IdleTimeout.Duration() < 0 {
		return &util.ConfigError{
			Field:   "lifecycle.idleTimeout",
			Message: "must not be negative",
		}
	}

	if cfg.Lifecycle.MaxLifespan.Duration() < 0 {
		return &util.ConfigError{
			Field:   "lifecycle.maxLifespan",
			Message: "must not be negative",
		}
	}

	if cfg.Lifecycle.GracePeriod.Duration() < 0 {
		return &util.ConfigError{
			Field:   "lifecycle.gracePeriod",
			Message: "must not be negative",
		}
	}

	if !bufferKinds[cfg.Buffers.Kind] {
		return &util.ConfigError{
			Field:   "buffers.kind",
			Message: "must be one of: pooled, unpooled",
		}
	}

	if cfg.Buffers.Size <= 0 {
		return &util.ConfigError{
			Field:   "buffers.size",
			Message: "must be positive",
		}
	}

	if cfg.Breaker.Enabled {
		if cfg.Breaker.MaxRequests <= 0 {
			return &util.ConfigError{
				Field:   "breaker.maxRequests",
				Message: "must be positive when breaker is enabled",
			}
		}
		if cfg.Breaker.Timeout.Duration() <= 0 {
			return &util.ConfigError{
				Field:   "breaker.timeout",
				Message: "must be positive when breaker is enabled",
			}
		}
	}

	return nil
}
