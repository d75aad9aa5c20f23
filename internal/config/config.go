// Package config loads daemon configuration from a config file and the
// environment. Environment variables use the SCORESYNC_ prefix and override
// file values (SCORESYNC_REMOTE_URL, SCORESYNC_CACHE_DIR, ...).
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds every tunable the daemon reads at startup. File keys use
// snake_case (cache_dir, remote_url, ...).
type Config struct {
	// CacheDir is where collection files and metadata live.
	CacheDir string

	// OplogPath is the pending-operation log database. Defaults to
	// oplog.db inside CacheDir.
	OplogPath string

	// RemoteURL is the document API base URL. Empty means run fully
	// offline against the local cache only.
	RemoteURL string

	// HealthURL is the connectivity probe target. Defaults to
	// RemoteURL + "/health".
	HealthURL string

	// DashboardAddr is the local status server address. Empty disables it.
	DashboardAddr string

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// LogFile, when set, routes logs to a size-rotated file instead of
	// stderr.
	LogFile string
}

// Load reads configuration from the optional file at path, the environment,
// and built-in defaults, in ascending precedence of default < file < env.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("cache_dir", filepath.Join(home, ".scoresync"))
	v.SetDefault("dashboard_addr", "127.0.0.1:7465")
	v.SetDefault("probe_interval", 10*time.Second)

	v.SetEnvPrefix("scoresync")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		CacheDir:      v.GetString("cache_dir"),
		OplogPath:     v.GetString("oplog_path"),
		RemoteURL:     v.GetString("remote_url"),
		HealthURL:     v.GetString("health_url"),
		DashboardAddr: v.GetString("dashboard_addr"),
		ProbeInterval: v.GetDuration("probe_interval"),
		LogFile:       v.GetString("log_file"),
	}

	if cfg.OplogPath == "" {
		cfg.OplogPath = filepath.Join(cfg.CacheDir, "oplog.db")
	}
	if cfg.HealthURL == "" && cfg.RemoteURL != "" {
		cfg.HealthURL = cfg.RemoteURL + "/health"
	}

	return &cfg, nil
}

// LogWriter returns the destination for daemon logs: a size-rotated file
// when LogFile is set, stderr otherwise.
func (c *Config) LogWriter() io.Writer {
	if c.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
}

// NewLogger builds a prefixed logger over the configured destination.
func (c *Config) NewLogger(prefix string) *log.Logger {
	return log.New(c.LogWriter(), prefix, log.LstdFlags)
}
