// Package config reads the launcher's environment configuration.
//
// Regular settings are bound to struct fields with github.com/caarlos0/env.
// The debug switch is different: it is enabled by the mere presence of
// DebugKey, whatever its value (an empty value still enables it), so it is
// checked with os.LookupEnv on every call instead of being parsed into the
// struct and cached.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

const (
	// DebugKey enables debug output when present in the environment.
	DebugKey = "BUNDLE_LAUNCHER_DEBUG"

	// ArchiveKey overrides the location of the launcher's own bundle.
	ArchiveKey = "BUNDLE_LAUNCHER_ARCHIVE"
)

// Config holds the launcher settings taken from the environment.
type Config struct {
	// ArchiveLocation is an explicit bundle location: a filesystem path or a
	// file: URL, optionally followed by a "!/<entry>" marker. Empty means
	// "use the running executable".
	ArchiveLocation string `env:"BUNDLE_LAUNCHER_ARCHIVE"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses Config from the given variables instead of the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DebugEnabled reports whether DebugKey is set. It re-reads the environment
// on every call.
func DebugEnabled() bool {
	_, ok := os.LookupEnv(DebugKey)
	return ok
}
