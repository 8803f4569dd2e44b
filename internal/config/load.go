package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// runIDFormat is the layout of the run identifier timestamp. The run id
// prefixes backup directories and is written into the lock sentinel.
const runIDFormat = "20060102T150405"

// Load reads and parses a TOML config file, fills derived fields, and
// validates the result. Unknown keys are fatal so that typos never silently
// fall back to defaults.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	cfg.ConfigDir = filepath.Dir(abs)
	cfg.Now = time.Now().UTC().Format(runIDFormat)

	fillDerived(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("config loaded",
		"name", cfg.Name,
		"remoteA", cfg.RemoteA,
		"remoteB", cfg.RemoteB,
		"compare", cfg.Compare,
		"conflict_mode", cfg.ConflictMode,
	)

	return cfg, nil
}

// decodeInto decodes a TOML fragment on top of an existing config,
// rejecting unknown keys.
func decodeInto(fragment string, cfg *Config) error {
	md, err := toml.Decode(fragment, cfg)
	if err != nil {
		return err
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %s", undecoded[0].String())
	}

	return nil
}

// fillDerived populates defaults that depend on other fields: the job name,
// the per-side workdirs, and the temp directory.
func fillDerived(cfg *Config) {
	if cfg.Name == "" {
		h := fnv.New32a()
		h.Write([]byte(cfg.RemoteA + "\x00" + cfg.RemoteB))
		cfg.Name = fmt.Sprintf("%08x", h.Sum32())
	}

	if cfg.WorkdirA == "" {
		cfg.WorkdirA = JoinRemote(cfg.RemoteA, ".syncrclone")
	} else {
		cfg.customWorkdirs = true
	}

	if cfg.WorkdirB == "" {
		cfg.WorkdirB = JoinRemote(cfg.RemoteB, ".syncrclone")
	} else {
		cfg.customWorkdirs = true
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "syncrclone-"+cfg.Name+"-"+cfg.Now)
	}
}

// filterFlags are rclone flags that select files. They are only allowed in
// filter_flags; anywhere else they would corrupt listings and transfers.
var filterFlags = map[string]bool{
	"--include":      true,
	"--exclude":      true,
	"--include-from": true,
	"--exclude-from": true,
	"--filter":       true,
	"--filter-from":  true,
	"--files-from":   true,
}

// Validate checks all configuration values. It accumulates every error
// rather than stopping at the first, so users can fix all issues in one
// pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.RemoteA == "" {
		errs = append(errs, Errorf("must specify 'remoteA'"))
	}

	if cfg.RemoteB == "" {
		errs = append(errs, Errorf("must specify 'remoteB'"))
	}

	errs = append(errs, validateEnums(cfg)...)
	errs = append(errs, validateFlagLists(cfg)...)
	errs = append(errs, validateWorkdirs(cfg)...)

	if cfg.ActionThreads < 1 {
		cfg.ActionThreads = 1
	}

	return errors.Join(errs...)
}

func validateEnums(cfg *Config) []error {
	var errs []error

	check := func(key, val string, allowed ...string) {
		for _, a := range allowed {
			if val == a {
				return
			}
		}

		errs = append(errs, Errorf("'%s' must be one of %v, got %q", key, allowed, val))
	}

	check("compare", cfg.Compare, "size", "mtime", "hash")
	check("hash_fail_fallback", cfg.HashFailFallback, "size", "mtime", "none")
	check("renamesA", cfg.RenamesA, "size", "mtime", "hash", "none")
	check("renamesB", cfg.RenamesB, "size", "mtime", "hash", "none")
	check("conflict_mode", cfg.ConflictMode,
		"A", "B", "newer", "older", "larger", "smaller", "tag", "none")

	return errs
}

func validateFlagLists(cfg *Config) []error {
	var errs []error

	lists := map[string][]string{
		"rclone_flags":  cfg.RcloneFlags,
		"rclone_flagsA": cfg.RcloneFlagsA,
		"rclone_flagsB": cfg.RcloneFlagsB,
	}

	for key, flags := range lists {
		for _, f := range flags {
			if filterFlags[f] {
				errs = append(errs, Errorf(
					"'%s' cannot contain %q or any other filtering flag; use filter_flags", key, f))
			}
		}
	}

	return errs
}

func validateWorkdirs(cfg *Config) []error {
	var errs []error

	if cfg.customWorkdirs && cfg.SyncBackups {
		errs = append(errs, Errorf("cannot enable sync_backups with explicit workdirs"))
	}

	for _, s := range Sides() {
		workdir := cfg.Workdir(s)
		remote := cfg.Remote(s)

		if workdir == "" || remote == "" {
			continue
		}

		// The default workdir lives inside the remote and is filtered out
		// of listings. A custom workdir inside the remote is not filtered
		// and would sync onto itself.
		if workdir == JoinRemote(remote, ".syncrclone") {
			continue
		}

		if isUnder(workdir, remote) {
			errs = append(errs, Errorf(
				"workdir%s %q overlaps remote%s %q", s, workdir, s, remote))
		}
	}

	return errs
}

// isUnder reports whether path sits inside root, treating the remote colon
// as a path separator so "b2:bucket/x" is under "b2:bucket".
func isUnder(path, root string) bool {
	p := strings.ReplaceAll(path, ":", "/")
	r := strings.ReplaceAll(root, ":", "/")

	p = strings.TrimSuffix(p, "/")
	r = strings.TrimSuffix(r, "/")

	return p == r || strings.HasPrefix(p, r+"/")
}
