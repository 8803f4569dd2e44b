package rclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/listing"
)

// statePath returns the full remote path of a side's prior-listing file.
func (r *Rclone) statePath(s config.Side) string {
	return config.JoinRemote(r.cfg.Workdir(s), r.cfg.StateName(s))
}

// PullPrev fetches and decodes a side's prior listing. A missing file
// (agent exit 3 or 4) or an undecodable one is a recovery, not an error:
// the side starts from an empty prev and the run falls back to union
// semantics for it.
func (r *Rclone) PullPrev(ctx context.Context, s config.Side) (*listing.Listing, error) {
	dst := filepath.Join(r.cfg.TempDir, string(s)+"_prev")

	args := append(r.sideArgs(s), "--retries", "1", "copyto", r.statePath(s), dst)

	res, err := r.call(ctx, callSpec{args: args, okCodes: notFoundCodes, quiet: true})
	if err != nil {
		// Unexpected failures also reset to empty; the next run will
		// re-reconcile from whatever state survives.
		r.logger.Warn("unexpected rclone exit pulling previous list; resetting state", "side", s)

		return listing.New()
	}

	if res.ExitCode != 0 {
		r.logger.Info("no previous list; reset state", "side", s)

		return listing.New()
	}

	fh, err := os.Open(dst)
	if err != nil {
		r.logger.Warn("missing previous state after pull; resetting", "side", s)

		return listing.New()
	}
	defer fh.Close()

	prev, err := listing.Decode(fh)
	if err != nil {
		r.logger.Warn("could not decode previous state; resetting", "side", s, "error", err)

		return listing.New()
	}

	return prev, nil
}

// PushState uploads a side's new agreed listing to its workdir, replacing
// the prior state for the next run.
func (r *Rclone) PushState(ctx context.Context, s config.Side, l *listing.Listing) error {
	src := filepath.Join(r.cfg.TempDir, string(s)+"_curr")

	fh, err := os.Create(src)
	if err != nil {
		return fmt.Errorf("creating state file: %w", err)
	}

	if err := listing.Encode(fh, l); err != nil {
		fh.Close()

		return err
	}

	if err := fh.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}

	args := append(r.sideArgs(s), "copyto", src, r.statePath(s))

	_, err = r.call(ctx, callSpec{args: args})

	return err
}
