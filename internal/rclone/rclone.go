// Package rclone drives the external rclone binary: listings, transfers,
// renames, deletes, the advisory lock, and the persisted state files. All
// remote I/O in syncrclone goes through this package.
package rclone

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	gosync "sync"

	"github.com/MrJman006/syncrclone/internal/config"
)

// minVersion is the oldest rclone this engine supports. 1.59.0 introduced
// `move --files-from`, which the dispatcher depends on for grouped renames
// and delete-with-backup.
var minVersion = [3]int{1, 59, 0}

// statFlags quiet rclone's periodic stats down to one line per operation so
// streamed output stays readable.
var statFlags = []string{"-v", "--stats-one-line", "--log-format", ""}

// writeFlags skip the destination check on write operations whose
// destination is known to be absent (backup trees, fresh renames).
var writeFlags = []string{"--no-check-dest", "--ignore-times", "--no-traverse"}

// Rclone is the typed driver around agent invocations. Construction runs
// the version gate; feature probes are memoized per side.
type Rclone struct {
	cfg    *config.Config
	cmd    Commander
	logger *slog.Logger

	featMu   gosync.Mutex
	features map[config.Side]*Features
}

// Features is the capability record of one remote, from `backend features`.
// Defaults are conservative: no server-side copy or move, empty directories
// supported (if they are not, rmdirs is just a no-op there).
type Features struct {
	Copy                    bool
	Move                    bool
	CanHaveEmptyDirectories bool
}

// New builds a driver and verifies the rclone version. The commander is
// injectable for tests; pass NewProcCommander for real use.
func New(ctx context.Context, cfg *config.Config, cmd Commander, logger *slog.Logger) (*Rclone, error) {
	r := &Rclone{
		cfg:      cfg,
		cmd:      cmd,
		logger:   logger,
		features: make(map[config.Side]*Features),
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	if err := r.versionCheck(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// call runs one rclone invocation. okCodes lists exit codes the caller
// tolerates (the agent's 3 and 4 mean "not found"); any other non-zero exit
// becomes a *CallError.
type callSpec struct {
	args    []string
	stream  bool
	okCodes []int

	// quiet suppresses the error dump for calls where failure is routine
	// (state pull, lock probe).
	quiet bool
}

func (r *Rclone) call(ctx context.Context, spec callSpec) (*Result, error) {
	argv := append(strings.Fields(r.cfg.RcloneExe), spec.args...)

	r.logger.Debug("rclone call", "argv", argv)

	res, err := r.cmd.Run(ctx, &Request{
		Argv:   argv,
		Env:    r.buildEnv(),
		Stream: spec.stream,
	})
	if err != nil {
		return nil, err
	}

	if res.ExitCode != 0 && !slices.Contains(spec.okCodes, res.ExitCode) {
		if !spec.quiet {
			r.logger.Error("rclone call failed",
				"argv", argv,
				"exit", res.ExitCode,
				"stdout", strings.TrimSpace(res.Stdout),
				"stderr", strings.TrimSpace(res.Stderr),
			)
		}

		return nil, &CallError{
			Cmd:      argv,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		}
	}

	return res, nil
}

// buildEnv extends the parent environment with the configured additions and
// disables interactive password prompts. Configured keys are logged at debug
// level with credential values redacted.
func (r *Rclone) buildEnv() []string {
	env := os.Environ()

	added := make(map[string]string, len(r.cfg.RcloneEnv)+1)
	for k, v := range r.cfg.RcloneEnv {
		added[k] = v
	}

	added["RCLONE_ASK_PASSWORD"] = "false"

	keys := make([]string, 0, len(added))
	for k := range added {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, k+"="+added[k])
		r.logger.Debug("rclone env", "key", k, "value", redactEnv(k, added[k]))
	}

	return env
}

// credentialKey matches environment variable names that may carry secrets.
var credentialKey = regexp.MustCompile(`(?i)pass|token|secret|credential|key`)

// redactEnv hides the value of credential-bearing keys. RCLONE_ASK_PASSWORD
// is a prompt switch, not a secret, and is shown as-is.
func redactEnv(key, value string) string {
	if key != "RCLONE_ASK_PASSWORD" && credentialKey.MatchString(key) {
		return "**REDACTED**"
	}

	return value
}

// sideArgs merges the global and per-side extra flags in that order.
func (r *Rclone) sideArgs(s config.Side) []string {
	out := append([]string{}, r.cfg.RcloneFlags...)

	return append(out, r.cfg.SideFlags(s)...)
}

var versionRe = regexp.MustCompile(`(?m)^rclone v?(\d+)\.(\d+)(?:\.(\d+))?`)

// versionCheck runs `rclone --version` and fails with a VersionError below
// the minimum. An unparseable version string warns but does not abort.
func (r *Rclone) versionCheck(ctx context.Context) error {
	r.logger.Info("rclone version:")

	res, err := r.call(ctx, callSpec{args: []string{"--version"}, stream: true})
	if err != nil {
		return err
	}

	m := versionRe.FindStringSubmatch(res.Stdout)
	if m == nil {
		r.logger.Warn("could not parse rclone version number",
			"minimum", versionString(minVersion))

		return nil
	}

	var ver [3]int
	for i, part := range m[1:] {
		if part == "" {
			continue
		}

		ver[i], _ = strconv.Atoi(part)
	}

	if cmpVersion(ver, minVersion) < 0 {
		return &VersionError{
			Version: versionString(ver),
			Min:     versionString(minVersion),
		}
	}

	return nil
}

func cmpVersion(a, b [3]int) int {
	for i := range a {
		if a[i] != b[i] {
			return a[i] - b[i]
		}
	}

	return 0
}

func versionString(v [3]int) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Features returns the capability record for a side, probing the remote on
// first use and memoizing the answer.
func (r *Rclone) Features(ctx context.Context, s config.Side) (*Features, error) {
	r.featMu.Lock()
	defer r.featMu.Unlock()

	if f, ok := r.features[s]; ok {
		return f, nil
	}

	args := []string{"backend", "features", r.cfg.Remote(s)}
	args = append(args, r.sideArgs(s)...)

	res, err := r.call(ctx, callSpec{args: args})
	if err != nil {
		return nil, err
	}

	f, err := parseFeatures(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing features of remote %s: %w", s, err)
	}

	r.logger.Debug("feature probe",
		"side", s,
		"copy", f.Copy,
		"move", f.Move,
		"empty_dirs", f.CanHaveEmptyDirectories,
	)

	r.features[s] = f

	return f, nil
}

// SeedFeatures pre-populates the feature cache. Exposed for tests.
func (r *Rclone) SeedFeatures(s config.Side, f *Features) {
	r.featMu.Lock()
	defer r.featMu.Unlock()

	r.features[s] = f
}
