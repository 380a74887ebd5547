package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Extract.PollAttempts != 10 || cfg.Extract.PollInterval != 2*time.Second {
		t.Errorf("poll policy %d x %v, want 10 x 2s", cfg.Extract.PollAttempts, cfg.Extract.PollInterval)
	}
	if cfg.Artifacts.Seed != 42 || cfg.Artifacts.Samples != 1000 || cfg.Artifacts.Components != 50 {
		t.Errorf("unexpected artifact defaults %+v", cfg.Artifacts)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowtriage.yaml")
	content := `
server:
  addr: ":9000"
capture:
  interfaces:
    wifi: wlan0
  max_duration: 90s
artifacts:
  labels: legacy
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWTRIAGE_DATABASE_DRIVER", "pgx")
	t.Setenv("FLOWTRIAGE_DATABASE_DSN", "postgres://localhost/flows")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Capture.Interfaces["wifi"] != "wlan0" {
		t.Errorf("interfaces = %v", cfg.Capture.Interfaces)
	}
	if cfg.Capture.MaxDuration != 90*time.Second {
		t.Errorf("max_duration = %v", cfg.Capture.MaxDuration)
	}
	if cfg.Artifacts.Labels != "legacy" {
		t.Errorf("labels = %q", cfg.Artifacts.Labels)
	}
	if cfg.Database.Driver != "pgx" || cfg.Database.DSN != "postgres://localhost/flows" {
		t.Errorf("env override not applied: %+v", cfg.Database)
	}
	if cfg.Extract.PollAttempts != 10 {
		t.Errorf("default lost after file load: %d", cfg.Extract.PollAttempts)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"no dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"no concurrency", func(c *Config) { c.Server.MaxConcurrentRuns = 0 }, "max_concurrent_runs"},
		{"bad preset", func(c *Config) { c.Artifacts.Labels = "cic2017" }, "artifacts.labels"},
		{"kafka without topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, "kafka"},
		{"zero interval", func(c *Config) { c.Extract.PollInterval = 0 }, "poll_interval"},
		{"negative write timeout", func(c *Config) { c.Server.WriteTimeout = -time.Second }, "write_timeout"},
		{"no shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Artifacts.Labels = "custom"
	cfg.Artifacts.LabelNames = []string{"a", "b"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("custom label names should be accepted: %v", err)
	}
}
