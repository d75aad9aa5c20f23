package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CacheDir == "" {
		t.Error("Expected a default cache dir")
	}
	if cfg.OplogPath != filepath.Join(cfg.CacheDir, "oplog.db") {
		t.Errorf("Expected oplog inside cache dir, got %s", cfg.OplogPath)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Errorf("Expected default probe interval 10s, got %v", cfg.ProbeInterval)
	}
	if cfg.DashboardAddr == "" {
		t.Error("Expected a default dashboard address")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `cache_dir: /tmp/scores
remote_url: https://api.example.com
probe_interval: 30s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CacheDir != "/tmp/scores" {
		t.Errorf("Expected cache dir from file, got %s", cfg.CacheDir)
	}
	if cfg.RemoteURL != "https://api.example.com" {
		t.Errorf("Expected remote URL from file, got %s", cfg.RemoteURL)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("Expected probe interval 30s, got %v", cfg.ProbeInterval)
	}
	// Health URL derives from the remote URL when unset.
	if cfg.HealthURL != "https://api.example.com/health" {
		t.Errorf("Expected derived health URL, got %s", cfg.HealthURL)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("remote_url: https://file.example.com\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("SCORESYNC_REMOTE_URL", "https://env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RemoteURL != "https://env.example.com" {
		t.Errorf("Expected env to win, got %s", cfg.RemoteURL)
	}
}

func TestLogWriter(t *testing.T) {
	cfg := &Config{}
	if cfg.LogWriter() != os.Stderr {
		t.Error("Expected stderr without a log file")
	}

	cfg.LogFile = filepath.Join(t.TempDir(), "scoresync.log")
	w := cfg.LogWriter()
	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("Expected rotating file writer, got %T", w)
	}
	if lj.Filename != cfg.LogFile {
		t.Errorf("Expected log file %s, got %s", cfg.LogFile, lj.Filename)
	}
}
