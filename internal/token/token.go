// Package token resolves a registry bearer credential from the environment
// then the packaging tool's credentials file (spec.md §4.1, §6).
package token

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultEnvVar is the primary environment variable for the default
// registry (spec.md §6 credential source #1).
const DefaultEnvVar = "REGISTRY_TOKEN"

// ResolveOptions controls deterministic token resolution.
type ResolveOptions struct {
	// Registry is the registry identifier (e.g. "crates-io"); used to build
	// the REGISTRIES_<NAME>_TOKEN env var and the credentials.toml key path.
	Registry string

	// CredentialsPath overrides the default credentials file location
	// (tool config home / credentials.toml). Empty uses the default.
	CredentialsPath string

	// EnvLookup returns environment variable values; defaults to os.Getenv.
	EnvLookup func(string) string
}

// credentialsFile mirrors the TOML shape of a cargo-style credentials file:
//
//	token = "top-level-token"
//
//	[registries.my-registry]
//	token = "scoped-token"
type credentialsFile struct {
	Token      string                      `toml:"token"`
	Registries map[string]registryEntry    `toml:"registries"`
}

type registryEntry struct {
	Token string `toml:"token"`
}

// Resolve implements the priority order in spec.md §6: env var, then
// REGISTRIES_<NAME>_TOKEN, then credentials file. Returns "" with no error
// when no token is found — callers decide whether an absent token is fatal
// (preflight treats it as a report, not a hard failure; spec.md §4.4).
func Resolve(opts ResolveOptions) (string, error) {
	lookup := opts.EnvLookup
	if lookup == nil {
		lookup = os.Getenv
	}

	if v := strings.TrimSpace(lookup(DefaultEnvVar)); v != "" {
		return v, nil
	}

	if opts.Registry != "" {
		scopedVar := scopedEnvVar(opts.Registry)
		if v := strings.TrimSpace(lookup(scopedVar)); v != "" {
			return v, nil
		}
	}

	path := opts.CredentialsPath
	if path == "" {
		var err error
		path, err = DefaultCredentialsPath()
		if err != nil {
			return "", nil //nolint:nilerr // no config home is not a resolution failure
		}
	}

	return readCredentialsFile(path, opts.Registry)
}

// scopedEnvVar builds REGISTRIES_<NAME>_TOKEN with <NAME> uppercased and
// '-' replaced by '_' (spec.md §6 credential source #2).
func scopedEnvVar(registry string) string {
	name := strings.ToUpper(registry)
	name = strings.ReplaceAll(name, "-", "_")
	return "REGISTRIES_" + name + "_TOKEN"
}

// DefaultCredentialsPath returns the tool's config-home credentials file.
func DefaultCredentialsPath() (string, error) {
	home, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config home: %w", err)
	}
	return filepath.Join(home, "shipper", "credentials.toml"), nil
}

func readCredentialsFile(path, registry string) (string, error) {
	var creds credentialsFile
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("parse credentials file %s: %w", path, err)
	}

	if registry != "" {
		if entry, ok := creds.Registries[registry]; ok && entry.Token != "" {
			return entry.Token, nil
		}
	}
	return creds.Token, nil
}
