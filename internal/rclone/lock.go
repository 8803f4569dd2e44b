package rclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrJman006/syncrclone/internal/config"
)

// notFoundCodes are the agent exit codes for "directory not found" (3) and
// "file not found" (4). State pull and lock probing opt in to tolerating
// them.
var notFoundCodes = []int{3, 4}

// lockDest returns the full remote path of a side's lock sentinel.
func (r *Rclone) lockDest(s config.Side) string {
	return config.JoinRemote(r.cfg.Workdir(s), r.cfg.LockName())
}

// CheckLock fails with a *LockedError if either side's lock sentinel
// exists. The sentinel is advisory and owner-independent: any lock blocks.
func (r *Rclone) CheckLock(ctx context.Context) error {
	for _, s := range config.Sides() {
		if err := r.checkLockSide(ctx, s); err != nil {
			return err
		}
	}

	return nil
}

func (r *Rclone) checkLockSide(ctx context.Context, s config.Side) error {
	dest := r.lockDest(s)

	args := append(r.sideArgs(s), "--retries", "1", "lsf", dest)

	res, err := r.call(ctx, callSpec{args: args, okCodes: notFoundCodes, quiet: true})
	if err != nil {
		return err
	}

	if res.ExitCode != 0 {
		// Not found: the remote is free.
		return nil
	}

	return &LockedError{Side: s, Path: dest}
}

// Lock uploads this run's sentinel to both workdirs. The sentinel contents
// are the run id so a stale lock is datable.
func (r *Rclone) Lock(ctx context.Context) error {
	src := filepath.Join(r.cfg.TempDir, "LOCK_"+r.cfg.Name)
	if err := os.WriteFile(src, []byte(r.cfg.Now+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing lock sentinel: %w", err)
	}

	for _, s := range config.Sides() {
		r.logger.Info("setting lock", "side", s)

		args := append([]string{"copyto"}, statFlags...)
		args = append(args, r.sideArgs(s)...)
		args = append(args, "--ignore-times", "--no-traverse", src, r.lockDest(s))

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	return nil
}

// BreakLock removes the lock sentinel on the given side, or on both when
// side is empty. Missing sentinels are not an error.
func (r *Rclone) BreakLock(ctx context.Context, side string) error {
	sides := config.Sides()

	switch side {
	case "", "both":
	case "A":
		sides = [2]config.Side{config.A, config.A}
	case "B":
		sides = [2]config.Side{config.B, config.B}
	default:
		return config.Errorf("break-lock must be 'A', 'B', or 'both', got %q", side)
	}

	done := map[config.Side]bool{}

	for _, s := range sides {
		if done[s] {
			continue
		}

		done[s] = true

		r.logger.Info("breaking lock", "side", s)

		args := append([]string{"delete"}, statFlags...)
		args = append(args, r.sideArgs(s)...)
		args = append(args, "--retries", "1", r.lockDest(s))

		if _, err := r.call(ctx, callSpec{args: args, stream: true, quiet: true}); err != nil {
			r.logger.Info("no lock to break", "side", s)
		}
	}

	return nil
}
