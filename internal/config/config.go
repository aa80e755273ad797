package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"rembgd/internal/launcher"
	"rembgd/internal/logger"
	"rembgd/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Helper  HelperConfig   `toml:"helper" mapstructure:"helper"`
	Health  HealthConfig   `toml:"health" mapstructure:"health"`
	Restart RestartConfig  `toml:"restart" mapstructure:"restart"`
	Gateway GatewayConfig  `toml:"gateway" mapstructure:"gateway"`
	Server  *ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History *HistoryConfig `toml:"history" mapstructure:"history"`
	Log     *LogConfig     `toml:"log" mapstructure:"log"`
}

// HelperConfig describes how the helper process is invoked and discovered.
type HelperConfig struct {
	Command        string        `toml:"command" mapstructure:"command"`
	WorkDir        string        `toml:"workdir" mapstructure:"workdir"`
	Env            []string      `toml:"env" mapstructure:"env"`
	HandshakePath  string        `toml:"handshake_path" mapstructure:"handshake_path"`
	StartupTimeout time.Duration `toml:"startup_timeout" mapstructure:"startup_timeout"`
	PollBackoff    time.Duration `toml:"poll_backoff" mapstructure:"poll_backoff"`
	StopGrace      time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
}

type HealthConfig struct {
	Interval        time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout         time.Duration `toml:"timeout" mapstructure:"timeout"`
	ConfirmRetries  int           `toml:"confirm_retries" mapstructure:"confirm_retries"`
	ConfirmInterval time.Duration `toml:"confirm_interval" mapstructure:"confirm_interval"`
}

type RestartConfig struct {
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `toml:"backoff" mapstructure:"backoff"`
}

type GatewayConfig struct {
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// HistoryConfig selects the lifecycle event sink by DSN
// (sqlite path or postgres URL).
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Load parses a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Helper.Command == "" {
		return nil, fmt.Errorf("helper.command is required")
	}
	return &fc, nil
}

// SupervisorConfig converts the file config into the supervisor's policy
// struct. Zero values fall through to the supervisor defaults.
func (fc *FileConfig) SupervisorConfig() supervisor.Config {
	spec := launcher.Spec{
		Name:    "rembg-helper",
		Command: fc.Helper.Command,
		WorkDir: fc.Helper.WorkDir,
		Env:     fc.Helper.Env,
	}
	if fc.Log != nil {
		spec.Log = logger.Config{
			Dir:        fc.Log.Dir,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		}
	}
	return supervisor.Config{
		Spec:               spec,
		HandshakePath:      fc.Helper.HandshakePath,
		StartupTimeout:     fc.Helper.StartupTimeout,
		HandshakeBackoff:   fc.Helper.PollBackoff,
		HealthInterval:     fc.Health.Interval,
		HealthTimeout:      fc.Health.Timeout,
		ConfirmRetries:     fc.Health.ConfirmRetries,
		ConfirmInterval:    fc.Health.ConfirmInterval,
		MaxRestartAttempts: fc.Restart.MaxAttempts,
		RestartBackoff:     fc.Restart.Backoff,
		StopGrace:          fc.Helper.StopGrace,
	}
}
