// Package config contains pictosend configuration definitions.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/jacksonlevine/pictosend/filesystem"
	"github.com/jacksonlevine/pictosend/history"
	"github.com/jacksonlevine/pictosend/log"
	"github.com/jacksonlevine/pictosend/registry"
	"github.com/jacksonlevine/pictosend/server"
)

const defaultListenAddr = "0.0.0.0:6969"

// Config defines the top level configuration of the board server.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Server     server.Config `mapstructure:"server"`
	LOGGING    LoggerConfig  `mapstructure:"logging"`
}

// BaseConfig defines the default configuration options for the board server.
type BaseConfig struct {
	ConfigFile string `mapstructure:"config"`
	Preset     string `mapstructure:"preset"`

	ListenAddr string `mapstructure:"listen-addr"`
	// HistoryPath is the snapshot file. The lock file lives next to it.
	HistoryPath  string        `mapstructure:"history-path"`
	MaxHistory   int           `mapstructure:"max-history"`
	QueueSize    int           `mapstructure:"queue-size"`
	PersistRetry time.Duration `mapstructure:"persist-retry"`

	CollectMetrics    bool              `mapstructure:"metrics"`
	MetricsAddr       string            `mapstructure:"metrics-addr"`
	MetricsPush       string            `mapstructure:"metrics-push"`
	MetricsPushPeriod time.Duration     `mapstructure:"metrics-push-period"`
	MetricsPushHeader map[string]string `mapstructure:"metrics-push-header"`
}

// HistoryFile returns the canonical path of the history snapshot.
func (cfg *BaseConfig) HistoryFile() string {
	return filesystem.GetCanonicalPath(cfg.HistoryPath)
}

// LockFile returns the path of the lock held while the server runs.
func (cfg *BaseConfig) LockFile() string {
	path := cfg.HistoryFile()
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+".lock")
}

// LoggerConfig holds the encoder and the logging level for each component.
type LoggerConfig struct {
	Encoder              string `mapstructure:"log-encoder"`
	AppLoggerLevel       string `mapstructure:"app"`
	ServerLoggerLevel    string `mapstructure:"server"`
	HistoryLoggerLevel   string `mapstructure:"history"`
	BroadcastLoggerLevel string `mapstructure:"broadcast"`
	RegistryLoggerLevel  string `mapstructure:"registry"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: DefaultBaseConfig(),
		Server:     server.DefaultConfig(),
		LOGGING:    defaultLoggingConfig(),
	}
}

// DefaultBaseConfig returns the default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		ListenAddr:        defaultListenAddr,
		HistoryPath:       "./history",
		MaxHistory:        history.DefaultCapacity,
		QueueSize:         registry.DefaultQueueSize,
		PersistRetry:      5 * time.Second,
		MetricsAddr:       ":9090",
		MetricsPushPeriod: time.Minute,
	}
}

func defaultLoggingConfig() LoggerConfig {
	level := log.DefaultLevel().String()
	return LoggerConfig{
		Encoder:              log.ConsoleEncoder,
		AppLoggerLevel:       level,
		ServerLoggerLevel:    level,
		HistoryLoggerLevel:   level,
		BroadcastLoggerLevel: level,
		RegistryLoggerLevel:  level,
	}
}

// LoadConfig reads the config file into vip. An empty location means no config file.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		return nil
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %w", err)
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (cfg *Config) Validate() error {
	var errs []error
	positive := func(key string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	positive("persist-retry", cfg.PersistRetry)
	positive("read-timeout", cfg.Server.ReadTimeout)
	positive("frame-timeout", cfg.Server.FrameTimeout)
	if cfg.MetricsPush != "" {
		positive("metrics-push-period", cfg.MetricsPushPeriod)
	}
	if cfg.Server.ErrorPause < 0 {
		errs = append(errs, fmt.Errorf("error-pause must not be negative, got %v", cfg.Server.ErrorPause))
	}
	if cfg.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("max-history must be positive, got %d", cfg.MaxHistory))
	}
	if cfg.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue-size must be positive, got %d", cfg.QueueSize))
	}
	return errors.Join(errs...)
}
