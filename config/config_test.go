package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.Port)
	}
	if cfg.DBPath != defaultDBPath {
		t.Fatalf("expected default db path %s, got %s", defaultDBPath, cfg.DBPath)
	}
	if cfg.StorageDir != defaultStorageDir {
		t.Fatalf("expected default storage dir %s, got %s", defaultStorageDir, cfg.StorageDir)
	}
	if cfg.ReadTimeout != defaultReadTimeout || cfg.WriteTimeout != defaultWriteTimeout {
		t.Fatalf("unexpected timeouts %s/%s", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.StorageWorkers != 1 {
		t.Fatalf("expected a single storage worker, got %d", cfg.StorageWorkers)
	}
	if cfg.HTTPAddress != "" {
		t.Fatalf("expected http listener disabled, got %q", cfg.HTTPAddress)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
port: 9000
db_path: "/var/lib/wizz/wizz.db"
storage_dir: "/var/lib/wizz/blobs"
http_address: ":9100"
read_timeout: "45s"
write_timeout: 5
storage_workers: 4
log_level: "debug"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WIZZ_PORT", "9001")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9001 {
		t.Fatalf("expected env override for port, got %d", cfg.Port)
	}
	if cfg.DBPath != "/var/lib/wizz/wizz.db" {
		t.Fatalf("expected db path from file, got %s", cfg.DBPath)
	}
	if cfg.HTTPAddress != ":9100" {
		t.Fatalf("expected http address from file, got %s", cfg.HTTPAddress)
	}
	if cfg.ReadTimeout != 45*time.Second {
		t.Fatalf("expected read timeout 45s, got %s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("expected write timeout 5s, got %s", cfg.WriteTimeout)
	}
	if cfg.StorageWorkers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.StorageWorkers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Setenv("WIZZ_READ_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid read timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
