package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avtransport/internal/util"
)

func TestDuration(t *testing.T) {
	t.Run("unmarshal YAML", func(t *testing.T) {
		var s struct {
			Timeout Duration `yaml:"timeout"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(`timeout: "1h30m"`), &s))
		assert.Equal(t, 90*time.Minute, s.Timeout.Duration())
	})

	t.Run("unmarshal empty string", func(t *testing.T) {
		var s struct {
			Timeout Duration `yaml:"timeout"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(`timeout: ""`), &s))
		assert.Equal(t, time.Duration(0), s.Timeout.Duration())
	})

	t.Run("unmarshal invalid", func(t *testing.T) {
		var s struct {
			Timeout Duration `yaml:"timeout"`
		}
		assert.Error(t, yaml.Unmarshal([]byte(`timeout: "ninety"`), &s))
	})

	t.Run("marshal YAML", func(t *testing.T) {
		out, err := yaml.Marshal(Duration(5 * time.Second))
		require.NoError(t, err)
		assert.Equal(t, "5s\n", string(out))
	})

	t.Run("JSON round trip", func(t *testing.T) {
		data, err := json.Marshal(Duration(300 * time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, `"300ms"`, string(data))

		var d Duration
		require.NoError(t, json.Unmarshal(data, &d))
		assert.Equal(t, 300*time.Millisecond, d.Duration())
	})

	t.Run("JSON null", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`null`), &d))
		assert.Equal(t, time.Duration(0), d.Duration())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 64, cfg.Sender.MaxConnectionsPerRoute)
	assert.Equal(t, 10*time.Second, cfg.Sender.ConnectTimeout.Duration())
	assert.Equal(t, 90*time.Second, cfg.Lifecycle.IdleTimeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.MaxLifespan.Duration())
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.GracePeriod.Duration())
	assert.Equal(t, "pooled", cfg.Buffers.Kind)
	assert.Equal(t, 32*1024, cfg.Buffers.Size)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads file over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "transport.yaml")
		content := `
sender:
  maxConnectionsPerRoute: 8
  connectTimeout: "3s"
lifecycle:
  idleTimeout: "45s"
  maxLifespan: "2m"
  gracePeriod: "1s"
buffers:
  kind: unpooled
  size: 4096
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Sender.MaxConnectionsPerRoute)
		assert.Equal(t, 3*time.Second, cfg.Sender.ConnectTimeout.Duration())
		assert.Equal(t, 45*time.Second, cfg.Lifecycle.IdleTimeout.Duration())
		assert.Equal(t, "unpooled", cfg.Buffers.Kind)
		// Untouched sections keep defaults.
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid YAML", func(t *testing.T) {
		_, err := LoadConfigFromReader(strings.NewReader("sender: [not a map"))
		assert.Error(t, err)
	})
}

func TestEnvSubstitution(t *testing.T) {
	t.Run("set variable", func(t *testing.T) {
		t.Setenv("TRANSPORT_MAX_CONNS", "16")
		cfg, err := LoadConfigFromReader(strings.NewReader(
			"sender:\n  maxConnectionsPerRoute: ${TRANSPORT_MAX_CONNS}\n"))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Sender.MaxConnectionsPerRoute)
	})

	t.Run("default value", func(t *testing.T) {
		cfg, err := LoadConfigFromReader(strings.NewReader(
			"logging:\n  level: ${TRANSPORT_UNSET_LEVEL:-debug}\n"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("escaped dollar", func(t *testing.T) {
		cfg, err := LoadConfigFromReader(strings.NewReader(
			"logging:\n  output: \"$${literal}\"\n"))
		require.NoError(t, err)
		assert.Equal(t, "${literal}", cfg.Logging.Output)
	})
}

func TestValidateConfig(t *testing.T) {
	valid := func() *TransportConfig { return DefaultConfig() }

	t.Run("nil config", func(t *testing.T) {
		err := ValidateConfig(nil)
		assert.ErrorIs(t, err, util.ErrConfigInvalid)
	})

	t.Run("zero max connections", func(t *testing.T) {
		cfg := valid()
		cfg.Sender.MaxConnectionsPerRoute = 0
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sender.maxConnectionsPerRoute")
	})

	t.Run("negative idle timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Lifecycle.IdleTimeout = Duration(-time.Second)
		assert.Error(t, ValidateConfig(cfg))
	})

	t.Run("unknown buffer kind", func(t *testing.T) {
		cfg := valid()
		cfg.Buffers.Kind = "mmap"
		err := ValidateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "buffers.kind")
	})

	t.Run("breaker requires timeout when enabled", func(t *testing.T) {
		cfg := valid()
		cfg.Breaker.Enabled = true
		cfg.Breaker.Timeout = 0
		assert.Error(t, ValidateConfig(cfg))
	})

	t.Run("breaker fields ignored when disabled", func(t *testing.T) {
		cfg := valid()
		cfg.Breaker.Enabled = false
		cfg.Breaker.Timeout = 0
		cfg.Breaker.MaxRequests = 0
		assert.NoError(t, ValidateConfig(cfg))
	})
}
