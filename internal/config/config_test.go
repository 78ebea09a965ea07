package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.RelayURL == "" || cfg.APIBaseURL == "" {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadClientFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("api_base_url: http://api.example.com/\nrequest_timeout: 3s\nstorage:\n  path: /tmp/x.db\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BIZDIR_RELAY_URL", "ws://relay.example.com/socket")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.APIBaseURL != "http://api.example.com/" {
		t.Errorf("Expected api url from file, got %q", cfg.APIBaseURL)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.Storage.Path != "/tmp/x.db" {
		t.Errorf("Expected storage path from file, got %q", cfg.Storage.Path)
	}
	if cfg.RelayURL != "ws://relay.example.com/socket" {
		t.Errorf("Expected relay url from env, got %q", cfg.RelayURL)
	}
}

func TestSaveClientRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultClient()
	cfg.APIBaseURL = "http://saved.example.com/"
	if err := SaveClient(cfg, path); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	loaded, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if loaded.APIBaseURL != cfg.APIBaseURL {
		t.Errorf("Expected %q, got %q", cfg.APIBaseURL, loaded.APIBaseURL)
	}
}

func TestLoadRelayEnv(t *testing.T) {
	t.Setenv("RELAY_ADDR", ":9999")
	t.Setenv("RELAY_RATE_RPS", "2.5")
	t.Setenv("RELAY_RETENTION_ENABLED", "true")
	t.Setenv("RELAY_RETENTION_MAX_AGE", "48h")

	cfg := LoadRelay()
	if cfg.Addr != ":9999" {
		t.Errorf("Expected addr :9999, got %s", cfg.Addr)
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Errorf("Expected rps 2.5, got %v", cfg.RateLimit.RPS)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxAge != 48*time.Hour {
		t.Errorf("Unexpected retention config: %+v", cfg.Retention)
	}
}
