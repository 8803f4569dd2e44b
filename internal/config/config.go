// Package config implements TOML configuration loading, validation, and
// per-side option resolution for syncrclone.
package config

import (
	"fmt"
)

// Side identifies one of the two sync endpoints.
type Side string

// The two endpoints of every sync job.
const (
	A Side = "A"
	B Side = "B"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == A {
		return B
	}

	return A
}

// Sides lists both endpoints in canonical order.
func Sides() [2]Side { return [2]Side{A, B} }

// Config is the fully-resolved run configuration. It is populated from the
// TOML config file, amended with CLI overrides, and then treated as
// immutable: the engine takes it by value and never discovers options at
// runtime.
type Config struct {
	// Endpoints. Remote strings are opaque to us and passed to rclone as-is.
	RemoteA string `toml:"remoteA"`
	RemoteB string `toml:"remoteB"`

	// Side-local state roots. Default to <remote>/.syncrclone.
	WorkdirA string `toml:"workdirA"`
	WorkdirB string `toml:"workdirB"`

	// Name distinguishes jobs that share a workdir. Used in the state file,
	// lock sentinel, and backup directory names.
	Name string `toml:"name"`

	// Change detection: size, mtime, or hash.
	Compare string `toml:"compare"`

	// When compare is hash but the two entries share no hash algorithm:
	// size, mtime, or none (none means "treat as unchanged").
	HashFailFallback string `toml:"hash_fail_fallback"`

	// Rename detection attribute per side: size, mtime, hash, or none.
	RenamesA string `toml:"renamesA"`
	RenamesB string `toml:"renamesB"`

	// Carry hashes from the previous listing when (Path, Size, mtime) match.
	ReuseHashesA bool `toml:"reuse_hashesA"`
	ReuseHashesB bool `toml:"reuse_hashesB"`

	// Conflict winner: A, B, newer, older, larger, smaller, tag, or none.
	ConflictMode string `toml:"conflict_mode"`

	// Also keep the loser under a tagged name when a winner is chosen.
	TagConflict bool `toml:"tag_conflict"`

	// Modification-time tolerance in seconds.
	DT float64 `toml:"dt"`

	// Worker-pool size for individual moveto and rmdirs calls. Minimum 1.
	ActionThreads int `toml:"action_threads"`

	// Route deletes and overwrites through the per-run backup tree.
	Backup bool `toml:"backup"`

	// Force server-side copy (true) or move (false) for backups.
	// Unset means auto-select from the remote's feature probe.
	BackupWithCopy *bool `toml:"backup_with_copy"`

	// Always request ModTime from rclone even when no configured mode
	// needs it.
	AlwaysGetMtime bool `toml:"always_get_mtime"`

	// Synthesize the next prev listing from the plan instead of re-listing
	// the remotes after the run.
	AvoidRelist bool `toml:"avoid_relist"`

	// Include the backup trees in the sync. Incompatible with explicit
	// workdirs.
	SyncBackups bool `toml:"sync_backups"`

	// Copy the run log into each side's workdir at the end of the run.
	SaveLogs bool `toml:"save_logs"`

	// Extra rclone filtering flags (--filter, --exclude, ...). These are the
	// only lists allowed to carry filter flags.
	FilterFlags []string `toml:"filter_flags"`

	// The rclone executable and environment additions.
	RcloneExe string            `toml:"rclone_exe"`
	RcloneEnv map[string]string `toml:"rclone_env"`

	// Extra rclone flags: global and per side. Must not contain filter
	// flags; use filter_flags for those.
	RcloneFlags  []string `toml:"rclone_flags"`
	RcloneFlagsA []string `toml:"rclone_flagsA"`
	RcloneFlagsB []string `toml:"rclone_flagsB"`

	// Scratch space for listings, file lists, and captured output.
	// Empty means a fresh directory under os.TempDir().
	TempDir string `toml:"tempdir"`

	// Run-scoped settings below here, set from CLI flags rather than the
	// config file.

	// Discard the previous listings and treat both sides as never synced.
	ResetState bool `toml:"-"`

	// Compute and display the plan without dispatching it.
	DryRun bool `toml:"-"`

	// Display the plan and ask for confirmation before dispatching.
	Interactive bool `toml:"-"`

	// Run identifier: a UTC timestamp set at load time. Used as the backup
	// directory prefix and the lock sentinel contents.
	Now string `toml:"-"`

	// Directory the config file was loaded from.
	ConfigDir string `toml:"-"`

	// Set when either workdir was specified explicitly rather than
	// defaulted under the remote.
	customWorkdirs bool
}

// CustomWorkdirs reports whether either workdir was set explicitly.
func (c *Config) CustomWorkdirs() bool { return c.customWorkdirs }

// Remote returns the remote string for a side.
func (c *Config) Remote(s Side) string {
	if s == A {
		return c.RemoteA
	}

	return c.RemoteB
}

// Workdir returns the state root for a side.
func (c *Config) Workdir(s Side) string {
	if s == A {
		return c.WorkdirA
	}

	return c.WorkdirB
}

// Renames returns the rename-detection attribute for a side.
func (c *Config) Renames(s Side) string {
	if s == A {
		return c.RenamesA
	}

	return c.RenamesB
}

// ReuseHashes reports whether hashes are carried over from the previous
// listing for a side.
func (c *Config) ReuseHashes(s Side) bool {
	if s == A {
		return c.ReuseHashesA
	}

	return c.ReuseHashesB
}

// SideFlags returns the extra rclone flags for one side.
func (c *Config) SideFlags(s Side) []string {
	if s == A {
		return c.RcloneFlagsA
	}

	return c.RcloneFlagsB
}

// BackupDir returns the workdir-relative backup directory for this run on
// the given side.
func (c *Config) BackupDir(s Side) string {
	return fmt.Sprintf("backups/%s_%s_%s", c.Now, c.Name, s)
}

// BackupPath returns the absolute (workdir-joined) backup destination for
// this run on the given side.
func (c *Config) BackupPath(s Side) string {
	return JoinRemote(c.Workdir(s), c.BackupDir(s))
}

// StateName returns the name of a side's prior-listing file within its
// workdir.
func (c *Config) StateName(s Side) string {
	return fmt.Sprintf("%s-%s_fl.json.xz", s, c.Name)
}

// LockName returns the workdir-relative path of the lock sentinel.
func (c *Config) LockName() string {
	return "LOCK/LOCK_" + c.Name
}

// NeedMtime reports whether any configured mode requires modification times
// for a side's listing.
func (c *Config) NeedMtime(s Side) bool {
	if c.AlwaysGetMtime {
		return true
	}

	if c.Compare == "mtime" || c.Renames(s) == "mtime" {
		return true
	}

	return c.ConflictMode == "newer" || c.ConflictMode == "older"
}

// NeedHashes reports whether hashes are required for a side's listing.
func (c *Config) NeedHashes(s Side) bool {
	return c.Compare == "hash" || c.Renames(s) == "hash"
}

// JoinRemote joins an rclone remote or remote-relative prefix with a
// POSIX-style relative path. A prefix ending in ":" gets no separator so
// that "b2:" + "x" stays "b2:x".
func JoinRemote(prefix, rel string) string {
	if prefix == "" {
		return rel
	}

	if rel == "" {
		return prefix
	}

	if prefix[len(prefix)-1] == ':' || prefix[len(prefix)-1] == '/' {
		return prefix + rel
	}

	return prefix + "/" + rel
}
