package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/rclone"
	"github.com/MrJman006/syncrclone/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// configBasename is the file searched for when the argument is a directory.
const configBasename = ".syncrclone/config.toml"

// errNotASyncDir means no config could be located in or above the given
// directory. Mapped to exit code 2 in main.
var errNotASyncDir = errors.New(
	"could not find '" + configBasename + "' in the specified or implied path")

// CLI flags, bound in newRootCmd.
var (
	flagBreakLock   string
	flagDebug       bool
	flagDryRun      bool
	flagInteractive bool
	flagNew         bool
	flagNoBackup    bool
	flagOverride    []string
	flagResetState  bool
)

// newRootCmd builds the root command. syncrclone is a single-action tool:
// the root command runs the sync.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncrclone [CONFIG]",
		Short: "Bi-directional sync between two rclone remotes",
		Long: "syncrclone reconciles two rclone remotes against their last agreed state\n" +
			"and drives rclone to converge them, with rename tracking, conflict\n" +
			"resolution, and backups.\n\n" +
			"CONFIG is the path to the job's config file. A directory searches upward\n" +
			"for '" + configBasename + "'; with --new, the template is written there.",
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runRoot,
	}

	cmd.Flags().StringVar(&flagBreakLock, "break-lock", "",
		"break locks on 'A', 'B', or 'both' remotes instead of syncing")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "print debug messages")
	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false,
		"compute and show the plan without changing anything")
	cmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false,
		"show the plan and ask before dispatching it")
	cmd.Flags().BoolVar(&flagNew, "new", false, "write a template config and exit")
	cmd.Flags().BoolVar(&flagNoBackup, "no-backup", false, "skip backups for this run")
	cmd.Flags().StringArrayVar(&flagOverride, "override", nil,
		"override a config option for this run, as 'key = value' (repeatable)")
	cmd.Flags().BoolVar(&flagResetState, "reset-state", false,
		"forget the previous sync state; the result is the union of both remotes")

	cmd.MarkFlagsMutuallyExclusive("dry-run", "interactive")

	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	configPath := "."
	if len(args) == 1 {
		configPath = args[0]
	}

	if flagNew {
		if isDir(configPath) {
			configPath = filepath.Join(configPath, configBasename)
		}

		if err := config.WriteTemplate(configPath); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Config file written to %q\n", configPath)

		return nil
	}

	if isDir(configPath) {
		found, err := searchUpwards(configPath)
		if err != nil {
			return err
		}

		configPath = found
	}

	cfg, logger, logPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	rc, err := rclone.New(ctx, cfg, rclone.NewProcCommander(cfg.TempDir, logger), logger)
	if err != nil {
		return err
	}

	if flagBreakLock != "" {
		return rc.BreakLock(ctx, flagBreakLock)
	}

	runner := sync.NewRunner(cfg, rc, logger)
	runner.LogFile = logPath
	runner.Confirm = askConfirm

	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR. Full log at %q\n", logPath)

		return err
	}

	return nil
}

// loadConfig loads and validates the config, applies CLI overrides, and
// builds the final logger writing to both stderr and the run log file.
func loadConfig(path string) (*config.Config, *slog.Logger, string, error) {
	bootstrap := buildLogger(os.Stderr)

	bootstrap.Info("syncrclone", "version", version, "config", path)

	cfg, err := config.Load(path, bootstrap)
	if err != nil {
		return nil, nil, "", err
	}

	for _, line := range flagOverride {
		bootstrap.Info("CLI override", "option", line)

		if err := config.ApplyOverride(cfg, line); err != nil {
			return nil, nil, "", err
		}
	}

	if len(flagOverride) > 0 {
		if err := config.Validate(cfg); err != nil {
			return nil, nil, "", err
		}
	}

	if flagNoBackup {
		cfg.Backup = false
	}

	cfg.DryRun = flagDryRun
	cfg.Interactive = flagInteractive
	cfg.ResetState = flagResetState

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("creating temp dir: %w", err)
	}

	logPath := filepath.Join(cfg.TempDir, "log.txt")

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("creating run log: %w", err)
	}

	logger := buildLogger(io.MultiWriter(os.Stderr, logFile))

	return cfg, logger, logPath, nil
}

// buildLogger creates the slog logger. --debug lowers the level; the run
// log file receives the same stream, so a failing run always leaves a
// post-mortem trail in the temp dir.
func buildLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// askConfirm prompts on stdout and reads a yes/no answer from stdin.
func askConfirm(string) bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; answer y/yes to proceed")
	}

	fmt.Print("Proceed with sync? [y/N]: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// searchUpwards looks for the config file in dir and every parent.
func searchUpwards(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(abs, configBasename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", errNotASyncDir
		}

		abs = parent
	}
}
