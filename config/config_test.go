package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		vip := viper.New()
		require.NoError(t, LoadConfig("", vip))
		require.Empty(t, vip.AllKeys())
	})
	t.Run("missing file", func(t *testing.T) {
		err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), viper.New())
		require.ErrorContains(t, err, "failed to read config file")
	})
	t.Run("toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("[main]\nlisten-addr = \"127.0.0.1:7000\"\n"), 0o600))
		vip := viper.New()
		require.NoError(t, LoadConfig(path, vip))
		require.Equal(t, "127.0.0.1:7000", vip.GetString("main.listen-addr"))
	})
}

func TestLockFile(t *testing.T) {
	cfg := DefaultBaseConfig()
	cfg.HistoryPath = "/var/lib/pictosend/history"
	require.Equal(t, "/var/lib/pictosend/history.lock", cfg.LockFile())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	for _, tc := range []struct {
		desc   string
		modify func(*Config)
		err    string
	}{
		{"zero persist retry", func(c *Config) { c.PersistRetry = 0 }, "persist-retry must be positive"},
		{"negative persist retry", func(c *Config) { c.PersistRetry = -time.Second }, "persist-retry must be positive"},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read-timeout must be positive"},
		{"zero frame timeout", func(c *Config) { c.Server.FrameTimeout = 0 }, "frame-timeout must be positive"},
		{"negative error pause", func(c *Config) { c.Server.ErrorPause = -1 }, "error-pause must not be negative"},
		{"zero max history", func(c *Config) { c.MaxHistory = 0 }, "max-history must be positive"},
		{"zero queue size", func(c *Config) { c.QueueSize = 0 }, "queue-size must be positive"},
		{"zero push period", func(c *Config) {
			c.MetricsPush = "http://localhost:9091"
			c.MetricsPushPeriod = 0
		}, "metrics-push-period must be positive"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.err)
		})
	}

	t.Run("push period ignored without push url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MetricsPushPeriod = 0
		require.NoError(t, cfg.Validate())
	})
	t.Run("zero error pause", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.ErrorPause = 0
		require.NoError(t, cfg.Validate())
	})
}
