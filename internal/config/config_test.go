package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.Mode != DispatchInline || cfg.Storage.JobBackend != StorageMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Pipeline.FetchTimeout != 30*time.Second || cfg.Pipeline.RefineTimeout != 3*time.Minute || cfg.Pipeline.StaleAfter != 5*time.Minute {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Dispatch.MaxAttempts != 3 || cfg.Dispatch.MinBackoff != time.Minute || cfg.Dispatch.MaxBackoff != 5*time.Minute {
		t.Fatalf("unexpected queue retry defaults: %+v", cfg.Dispatch)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
port: "8080"
storage:
  job_backend: file
  data_dir: /var/lib/cv
pipeline:
  refine_timeout: 90s
  retry_attempts: 4
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9090")
	t.Setenv("STALE_AFTER", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("env should override yaml port, got %s", cfg.Port)
	}
	if cfg.Storage.JobBackend != StorageFile || cfg.Storage.DataDir != "/var/lib/cv" {
		t.Fatalf("yaml storage not applied: %+v", cfg.Storage)
	}
	if cfg.Pipeline.RefineTimeout != 90*time.Second || cfg.Pipeline.RetryAttempts != 4 || cfg.Pipeline.StaleAfter != 2*time.Minute {
		t.Fatalf("pipeline not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.FetchTimeout != 30*time.Second {
		t.Fatalf("unset yaml keys should keep defaults")
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DISPATCH_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown dispatch mode")
	}
}

func TestQueuedModeNeedsProject(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DISPATCH_MODE", DispatchQueued)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestDirectRefineDisabledInProduction(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.AllowDirectRefine || !cfg.HTTP.SecureCookies {
		t.Fatalf("production should disable direct refine and secure cookies: %+v", cfg.HTTP)
	}
}
