package config

import (
	_ "embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

//go:embed config_example.toml
var exampleConfig string

const nameSuffixLen = 5

// WriteTemplate writes a commented example config to path, substituting a
// fresh job name. It refuses to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return Errorf("path %q exists; specify a different path or move the existing file", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	txt := strings.Replace(exampleConfig, "__NAME__", randomName(), 1)

	if err := os.WriteFile(path, []byte(txt), 0o644); err != nil {
		return fmt.Errorf("writing template config: %w", err)
	}

	return nil
}

// randomName generates a short job-name suffix so that two jobs created from
// the template never collide on shared remotes.
func randomName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

	b := make([]byte, nameSuffixLen)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}

	return "sync-" + string(b)
}

// ApplyOverride applies a single "key = value" override from the command
// line by decoding it as one line of TOML on top of the loaded config.
func ApplyOverride(cfg *Config, line string) error {
	if !strings.Contains(line, "=") {
		return Errorf("override %q must have the form 'key = value'", line)
	}

	if err := decodeInto(line, cfg); err != nil {
		return Errorf("override %q: %v", line, err)
	}

	return nil
}
