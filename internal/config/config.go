// Package config loads the publish engine's tunables from (highest to
// lowest priority): command-line flags, environment variables (SHIPPER_*),
// project config (.shipper.toml in cwd), and defaults (SPEC_FULL.md
// ambient stack §5.3).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable the engine and its collaborators read.
type Config struct {
	// StateDir is where state.json, events.jsonl, receipt.json, and the
	// lock file live (spec.md §6).
	StateDir string `toml:"state_dir"`

	Registry RegistryConfig `toml:"registry"`
	Retry    RetryConfig    `toml:"retry"`
	Readiness ReadinessConfig `toml:"readiness"`

	// Concurrency bounds parallel workers within a wave; 0 means
	// runtime.NumCPU (spec.md §4.5p).
	Concurrency int `toml:"concurrency"`

	// AllowDirty skips the git-cleanliness hard check (spec.md §4.4).
	AllowDirty bool `toml:"allow_dirty"`
	// StrictOwnership promotes an ownership failure to a hard preflight
	// failure (spec.md §4.4).
	StrictOwnership bool `toml:"strict_ownership"`
	// Force breaks a non-stale lock left by another run (spec.md §4.7).
	Force bool `toml:"force"`

	// Verbose enables debug-level structured logging.
	Verbose bool `toml:"verbose"`
}

// RegistryConfig describes the single registry endpoint packages publish
// to (spec.md §4.3, §6).
type RegistryConfig struct {
	Name      string `toml:"name"`
	APIBase   string `toml:"api_base"`
	IndexBase string `toml:"index_base"`
	// TimeoutSeconds bounds every individual registry HTTP request.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// RetryConfig tunes the upload retry loop's backoff (spec.md §4.5, §4.6).
type RetryConfig struct {
	MaxAttempts      int     `toml:"max_attempts"`
	BaseDelaySeconds int     `toml:"base_delay_seconds"`
	MaxDelaySeconds  int     `toml:"max_delay_seconds"`
	Jitter           float64 `toml:"jitter"`
}

// ReadinessConfig tunes the post-upload visibility poll (spec.md §4.5
// step 5).
type ReadinessConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	MaxWaitSeconds      int `toml:"max_wait_seconds"`
}

const (
	// DefaultStateDir mirrors internal/state.DefaultDir so a Config built
	// with Default() and a Store built with state.New("") agree without
	// either package importing the other solely for this constant.
	DefaultStateDir = ".shipper"

	defaultAPIBase         = "https://crates.io"
	defaultIndexBase       = "https://index.crates.io"
	defaultTimeoutSeconds  = 10
	defaultMaxAttempts     = 5
	defaultBaseDelay       = 1
	defaultMaxDelay        = 120
	defaultJitter          = 0.5
	defaultPollInterval    = 2
	defaultReadinessMaxWait = 120
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		StateDir: DefaultStateDir,
		Registry: RegistryConfig{
			Name:           "crates.io",
			APIBase:        defaultAPIBase,
			IndexBase:      defaultIndexBase,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Retry: RetryConfig{
			MaxAttempts:      defaultMaxAttempts,
			BaseDelaySeconds: defaultBaseDelay,
			MaxDelaySeconds:  defaultMaxDelay,
			Jitter:           defaultJitter,
		},
		Readiness: ReadinessConfig{
			PollIntervalSeconds: defaultPollInterval,
			MaxWaitSeconds:      defaultReadinessMaxWait,
		},
	}
}

// Load resolves configuration with flags > env > project file > defaults.
func Load(projectPath string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if projectPath == "" {
		projectPath = projectConfigPath()
	}
	if fileCfg, err := loadFromPath(projectPath); err != nil {
		return nil, err
	} else if fileCfg != nil {
		cfg = merge(cfg, fileCfg)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}
	return cfg, nil
}

func projectConfigPath() string {
	if override := os.Getenv("SHIPPER_CONFIG"); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".shipper.toml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("SHIPPER_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("SHIPPER_REGISTRY_API_BASE"); v != "" {
		cfg.Registry.APIBase = v
	}
	if v := os.Getenv("SHIPPER_REGISTRY_INDEX_BASE"); v != "" {
		cfg.Registry.IndexBase = v
	}
	if os.Getenv("SHIPPER_VERBOSE") == "true" || os.Getenv("SHIPPER_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if os.Getenv("SHIPPER_ALLOW_DIRTY") == "true" || os.Getenv("SHIPPER_ALLOW_DIRTY") == "1" {
		cfg.AllowDirty = true
	}
	if os.Getenv("SHIPPER_FORCE") == "true" || os.Getenv("SHIPPER_FORCE") == "1" {
		cfg.Force = true
	}
	return cfg
}

// merge overlays src's non-zero fields onto dst, src taking precedence.
func merge(dst, src *Config) *Config {
	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
	if src.Registry.Name != "" {
		dst.Registry.Name = src.Registry.Name
	}
	if src.Registry.APIBase != "" {
		dst.Registry.APIBase = src.Registry.APIBase
	}
	if src.Registry.IndexBase != "" {
		dst.Registry.IndexBase = src.Registry.IndexBase
	}
	if src.Registry.TimeoutSeconds != 0 {
		dst.Registry.TimeoutSeconds = src.Registry.TimeoutSeconds
	}
	if src.Retry.MaxAttempts != 0 {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.BaseDelaySeconds != 0 {
		dst.Retry.BaseDelaySeconds = src.Retry.BaseDelaySeconds
	}
	if src.Retry.MaxDelaySeconds != 0 {
		dst.Retry.MaxDelaySeconds = src.Retry.MaxDelaySeconds
	}
	if src.Retry.Jitter != 0 {
		dst.Retry.Jitter = src.Retry.Jitter
	}
	if src.Readiness.PollIntervalSeconds != 0 {
		dst.Readiness.PollIntervalSeconds = src.Readiness.PollIntervalSeconds
	}
	if src.Readiness.MaxWaitSeconds != 0 {
		dst.Readiness.MaxWaitSeconds = src.Readiness.MaxWaitSeconds
	}
	if src.Concurrency != 0 {
		dst.Concurrency = src.Concurrency
	}
	if src.AllowDirty {
		dst.AllowDirty = true
	}
	if src.StrictOwnership {
		dst.StrictOwnership = true
	}
	if src.Force {
		dst.Force = true
	}
	if src.Verbose {
		dst.Verbose = true
	}
	return dst
}

// BaseDelay, MaxDelay, PollInterval, MaxWait convert the TOML's
// plain-integer seconds fields into time.Duration at the call sites that
// need them, keeping the on-disk format human-editable.
func (c RetryConfig) BaseDelay() time.Duration { return time.Duration(c.BaseDelaySeconds) * time.Second }
func (c RetryConfig) MaxDelay() time.Duration  { return time.Duration(c.MaxDelaySeconds) * time.Second }

func (c ReadinessConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
func (c ReadinessConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

func (c RegistryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
