package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONSILIUM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Bus.Port != 4222 {
		t.Errorf("expected default bus port 4222, got %d", cfg.Bus.Port)
	}
	if cfg.Coordinator.AggregationTimeout != 10*time.Second {
		t.Errorf("expected 10s aggregation timeout, got %s", cfg.Coordinator.AggregationTimeout)
	}
	if len(cfg.Specialists) != 3 {
		t.Errorf("expected 3 default specialists, got %v", cfg.Specialists)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consilium.yaml")
	content := `
bus:
  port: 14222
  data_dir: ` + dir + `/nats
worker:
  max_concurrent_invocations: 8
  ack_deadline: 45s
coordinator:
  aggregation_timeout: 3s
  grace_window: 1s
specialists:
  - medication_advice
  - symptom_check
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONSILIUM_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Port != 14222 {
		t.Errorf("expected port 14222, got %d", cfg.Bus.Port)
	}
	if cfg.Worker.MaxConcurrentInvocations != 8 {
		t.Errorf("expected 8 concurrent invocations, got %d", cfg.Worker.MaxConcurrentInvocations)
	}
	if cfg.Worker.AckDeadline != 45*time.Second {
		t.Errorf("expected 45s ack deadline, got %s", cfg.Worker.AckDeadline)
	}
	if cfg.Coordinator.AggregationTimeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.Coordinator.AggregationTimeout)
	}
	if len(cfg.Specialists) != 2 {
		t.Errorf("expected 2 specialists, got %v", cfg.Specialists)
	}
	// Defaults survive for sections the file omits
	if cfg.Store.Path != "data/consilium.db" {
		t.Errorf("expected default store path, got %s", cfg.Store.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONSILIUM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CONSILIUM_BUS_URL", "nats://broker.internal:4222")
	t.Setenv("CONSILIUM_AGGREGATION_TIMEOUT", "7s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.URL != "nats://broker.internal:4222" {
		t.Errorf("bus url override not applied: %s", cfg.Bus.URL)
	}
	if cfg.Coordinator.AggregationTimeout != 7*time.Second {
		t.Errorf("timeout override not applied: %s", cfg.Coordinator.AggregationTimeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consilium.yaml")
	content := `
worker:
  max_concurrent_invocations: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONSILIUM_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for zero concurrency")
	}
}
