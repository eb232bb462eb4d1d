package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\nlog_level=debug\nheartbeat_interval=15s\nfallback_producer=loopback\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	content := "listen_addr=:9191\nidle_timeout=90s\nmax_streams_per_conn=8\naudit_path=/tmp/relay-audit.db\nroutes=gpt-*=>openai\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "relay.ini"), []byte(content), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}
	os.Setenv("STREAMGATE_OPENAI_API_KEY", "sk-env")
	t.Cleanup(func() { os.Unsetenv("STREAMGATE_OPENAI_API_KEY") })

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9191" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("unexpected idle timeout %v", cfg.IdleTimeout)
	}
	if cfg.MaxStreamsPerConn != 8 {
		t.Fatalf("unexpected stream limit %d", cfg.MaxStreamsPerConn)
	}
	if cfg.AuditPath != "/tmp/relay-audit.db" {
		t.Fatalf("unexpected audit path %s", cfg.AuditPath)
	}
	if cfg.Routes != "gpt-*=>openai" {
		t.Fatalf("unexpected routes %q", cfg.Routes)
	}
	if cfg.OpenAIAPIKey != "sk-env" {
		t.Fatalf("expected api key from env, got %q", cfg.OpenAIAPIKey)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Fatalf("unexpected idle timeout %v", cfg.IdleTimeout)
	}
	if cfg.AuditDriver != "sqlite" {
		t.Fatalf("unexpected audit driver %s", cfg.AuditDriver)
	}
	if cfg.FallbackProducer != "loopback" {
		t.Fatalf("unexpected fallback %s", cfg.FallbackProducer)
	}
}

func TestLoadRejectsBadAuditDriver(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\naudit_driver=mysql\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for unknown audit driver")
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\naudit_driver=postgres\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}
