package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agrox.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
authority: admin
auth:
  jwt_secret: s3cret
nats:
  url: nats://localhost:4222
  transfer_subject: agrox.transfers
  transfer_timeout: 2s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.GRPC.Addr != ":50051" || cfg.HTTP.Addr != ":8080" || cfg.Metrics.Addr != ":9090" {
		t.Fatalf("unexpected listen defaults %+v %+v %+v", cfg.GRPC, cfg.HTTP, cfg.Metrics)
	}
	if cfg.Storage.Path != "./data/badger" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("auth.token_ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.NATS.EventsSubject != "agrox.events" || cfg.NATS.TransferTimeout != 2*time.Second {
		t.Fatalf("unexpected nats config %+v", cfg.NATS)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing authority", body: "auth:\n  jwt_secret: x\n"},
		{name: "missing secret", body: "authority: admin\n"},
		{name: "transfer without nats", body: "authority: admin\nauth:\n  jwt_secret: x\nnats:\n  transfer_subject: t\n"},
		{name: "bad log level", body: "authority: admin\nauth:\n  jwt_secret: x\nlog:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() succeeded on missing file")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
}
