package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, DefaultStateDir)
	}
	if cfg.Registry.APIBase != defaultAPIBase {
		t.Errorf("Registry.APIBase = %q, want %q", cfg.Registry.APIBase, defaultAPIBase)
	}
	if cfg.Retry.MaxAttempts != defaultMaxAttempts {
		t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Retry.MaxAttempts, defaultMaxAttempts)
	}
}

func TestLoadFromProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".shipper.toml")
	contents := `
state_dir = "custom-state"

[registry]
name = "my-registry"
api_base = "https://example.test"

[retry]
max_attempts = 9
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != "custom-state" {
		t.Errorf("StateDir = %q, want custom-state", cfg.StateDir)
	}
	if cfg.Registry.Name != "my-registry" {
		t.Errorf("Registry.Name = %q, want my-registry", cfg.Registry.Name)
	}
	if cfg.Retry.MaxAttempts != 9 {
		t.Errorf("Retry.MaxAttempts = %d, want 9", cfg.Retry.MaxAttempts)
	}
	// Untouched fields keep their defaults.
	if cfg.Registry.IndexBase != defaultIndexBase {
		t.Errorf("Registry.IndexBase = %q, want default %q", cfg.Registry.IndexBase, defaultIndexBase)
	}
}

func TestLoadMissingProjectFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxAttempts != defaultMaxAttempts {
		t.Errorf("Retry.MaxAttempts = %d, want default %d", cfg.Retry.MaxAttempts, defaultMaxAttempts)
	}
}

func TestLoadFlagOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".shipper.toml")
	if err := os.WriteFile(path, []byte(`state_dir = "from-file"`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, &Config{StateDir: "from-flag"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != "from-flag" {
		t.Errorf("StateDir = %q, want from-flag (flag precedence)", cfg.StateDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SHIPPER_REGISTRY_API_BASE", "https://env.example")
	dir := t.TempDir()
	path := filepath.Join(dir, ".shipper.toml")
	if err := os.WriteFile(path, []byte(`[registry]
api_base = "https://file.example"
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.APIBase != "https://env.example" {
		t.Errorf("Registry.APIBase = %q, want env override", cfg.Registry.APIBase)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.Retry.BaseDelay().Seconds(); got != float64(defaultBaseDelay) {
		t.Errorf("BaseDelay() = %v, want %d seconds", got, defaultBaseDelay)
	}
	if got := cfg.Retry.MaxDelay().Seconds(); got != float64(defaultMaxDelay) {
		t.Errorf("MaxDelay() = %v, want %d seconds", got, defaultMaxDelay)
	}
	if got := cfg.Readiness.PollInterval().Seconds(); got != float64(defaultPollInterval) {
		t.Errorf("PollInterval() = %v, want %d seconds", got, defaultPollInterval)
	}
}
