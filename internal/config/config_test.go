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
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebounceDelay != 500*time.Millisecond || cfg.DeletionGrace != time.Second {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	contents := "addr: \":9000\"\ndebounce_delay: 250ms\nminio_endpoint: files:9000\nminio_use_ssl: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("BOARDRELAY_DELETION_GRACE_MS", "1500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Errorf("env must override file, got %q", cfg.Addr)
	}
	if cfg.DebounceDelay != 250*time.Millisecond {
		t.Errorf("expected file debounce, got %s", cfg.DebounceDelay)
	}
	if cfg.DeletionGrace != 1500*time.Millisecond {
		t.Errorf("expected env grace, got %s", cfg.DeletionGrace)
	}
	if cfg.MinioEndpoint != "files:9000" || !cfg.MinioUseSSL {
		t.Errorf("unexpected minio settings %+v", cfg)
	}
	if cfg.RedisURL == "" {
		t.Error("defaults must survive a partial file")
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("debounce_delay: 0s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("BOARDRELAY_TEST_INT", "nope")
	if got := getenvInt("BOARDRELAY_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback, got %d", got)
	}
}
