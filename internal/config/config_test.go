package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/config"
	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return fs
}

// chdir moves into an empty directory so no forecast.yaml is picked up.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr() != "localhost:8000" {
		t.Errorf("Addr = %s, want localhost:8000", cfg.Addr())
	}
	if cfg.Server.ReadTimeout != 30*time.Second || cfg.Server.WriteTimeout != 120*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.WalkForward.InSampleDays != 252 || cfg.WalkForward.OutSampleDays != 63 {
		t.Errorf("walkforward = %+v", cfg.WalkForward)
	}
	if cfg.Data.DataDir != "./data" || cfg.LogLevel != "info" || !cfg.Server.EnableMetrics {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Workers.Count < 1 || cfg.Workers.QueueSize != 4096 {
		t.Errorf("workers = %+v", cfg.Workers)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := []byte("server:\n  port: 9100\n  host: 0.0.0.0\nwalkforward:\n  insample_days: 100\nlog:\n  level: debug\n")
	if err := os.WriteFile(filepath.Join(dir, "forecast.yaml"), yaml, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORECAST_SERVER_PORT", "9200")
	t.Setenv("FORECAST_WALKFORWARD_OUTSAMPLE_DAYS", "21")

	cfg, err := config.Load(newFlags(t, "--host", "127.0.0.1"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want flag value", cfg.Server.Host)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Port = %d, want env value 9200", cfg.Server.Port)
	}
	if cfg.WalkForward.InSampleDays != 100 || cfg.WalkForward.OutSampleDays != 21 {
		t.Errorf("walkforward = %+v", cfg.WalkForward)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if filepath.Base(cfg.File) != "forecast.yaml" {
		t.Errorf("File = %q", cfg.File)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := config.Load(newFlags(t, "--config", "missing.yaml")); err == nil {
		t.Error("Load with a missing explicit config succeeded")
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("data:\n  dir: /srv/prices\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(newFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.DataDir != "/srv/prices" {
		t.Errorf("DataDir = %s", cfg.Data.DataDir)
	}
}

func TestLoadValidation(t *testing.T) {
	chdir(t, t.TempDir())

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "port", args: []string{"--port", "0"}},
		{name: "log level", args: []string{"--log-level", "verbose"}},
		{name: "workers", args: []string{"--workers", "0"}},
		{name: "window", env: map[string]string{"FORECAST_WALKFORWARD_INSAMPLE_DAYS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(newFlags(t, tt.args...)); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}

func TestLoadNilFlagSet(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load(nil): %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}
