package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
mode: poll
controller:
  driver: serial
  port_path: /dev/ttyACM0
logging:
  path: /var/log/canb0t.csv
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CANBOT_MODE", "sniff")
	t.Setenv("CANBOT_LOG", "OVERRIDE.CSV")

	cfg := Load(path)
	if cfg.Mode != ModeSniff {
		t.Errorf("env override lost: mode = %q", cfg.Mode)
	}
	if cfg.Controller.Driver != "serial" || cfg.Controller.PortPath != "/dev/ttyACM0" {
		t.Errorf("file values lost: %+v", cfg.Controller)
	}
	if cfg.Logging.Path != "OVERRIDE.CSV" {
		t.Errorf("env override lost: path = %q", cfg.Logging.Path)
	}
	// Untouched sections keep their defaults.
	if !cfg.Acquisition.StrictMatch || cfg.Monitor.ListenAddr != ":8090" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Mode != ModeSniff || cfg.Controller.Driver != "socketcan" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "turbo" }},
		{"driver", func(c *Config) { c.Controller.Driver = "parallel" }},
		{"log path", func(c *Config) { c.Logging.Path = "" }},
	} {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: bad value accepted", tc.name)
		}
	}
}
