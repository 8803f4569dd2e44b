package rclone

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/listing"
)

// lsjsonEntry is the subset of `lsjson` output the engine consumes.
type lsjsonEntry struct {
	Path    string
	Size    int64
	ModTime string
	Hashes  map[string]string
}

// FileList fetches a side's current listing and its prior state.
//
// Hashes are requested from the agent only when the configured compare or
// rename mode needs them; with hash reuse enabled the first listing skips
// hashes, entries matching prev on (Path, Size, mtime) inherit prev's
// hashes, and a second listing restricted to the leftover paths fills the
// gaps.
func (r *Rclone) FileList(ctx context.Context, s config.Side) (curr, prev *listing.Listing, err error) {
	compute := r.cfg.NeedHashes(s)
	reuse := compute && r.cfg.ReuseHashes(s)

	// Hard-wired filters go first so user filters can never unhide the
	// workdir or hide the lock.
	args := []string{"lsjson", "--filter", "+ /.syncrclone/LOCK/*"}

	if r.cfg.SyncBackups {
		args = append(args, "--filter", "+ /.syncrclone/backups/**")
	}

	args = append(args, "--filter", "- /.syncrclone/**")

	if compute && !reuse {
		args = append(args, "--hash")
	}

	if !r.cfg.NeedMtime(s) {
		args = append(args, "--no-modtime")
	}

	args = append(args, r.sideArgs(s)...)
	args = append(args, r.cfg.FilterFlags...)
	args = append(args, "-R", "--no-mimetype", "--files-only", r.cfg.Remote(s))

	res, err := r.call(ctx, callSpec{args: args})
	if err != nil {
		return nil, nil, err
	}

	curr, err = parseListing(res.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("listing remote %s: %w", s, err)
	}

	r.logger.Info("listed remote", "side", s, "files", curr.Len())

	if r.cfg.ResetState {
		r.logger.Debug("reset state", "side", s)

		prev, err = listing.New()
	} else {
		prev, err = r.PullPrev(ctx, s)
	}

	if err != nil {
		return nil, nil, err
	}

	if !compute || !reuse {
		return curr, prev, nil
	}

	if err := r.reuseHashes(ctx, s, curr, prev); err != nil {
		return nil, nil, err
	}

	return curr, prev, nil
}

// reuseHashes copies hash maps from prev onto curr where the identity
// triple (Path, Size, mtime) matches, then issues a second listing for the
// paths still missing hashes.
func (r *Rclone) reuseHashes(ctx context.Context, s config.Side, curr, prev *listing.Listing) error {
	var notHashed []string

	updated := 0

	for _, f := range curr.Files() {
		if f.ModTime == nil {
			notHashed = append(notHashed, f.Path)

			continue
		}

		old := prev.Get(listing.Query{Path: &f.Path, Size: &f.Size, ModTime: f.ModTime})
		if old == nil || len(old.Hashes) == 0 || old.ModTime == nil {
			notHashed = append(notHashed, f.Path)

			continue
		}

		curr.AmendHashes(f.Path, old.Hashes)
		updated++
	}

	if len(notHashed) == 0 {
		r.logger.Debug("hash reuse complete", "side", s, "reused", updated)

		return nil
	}

	r.logger.Debug("hash reuse left gaps",
		"side", s, "reused", updated, "fetching", len(notHashed))

	fromFile, err := r.writeFilesFrom(string(s)+"_update_hash", notHashed)
	if err != nil {
		return err
	}

	args := []string{"lsjson", "--hash", "--files-from", fromFile}
	args = append(args, r.sideArgs(s)...)
	args = append(args, "-R", "--no-mimetype", "--files-only", r.cfg.Remote(s))

	res, err := r.call(ctx, callSpec{args: args})
	if err != nil {
		return err
	}

	var entries []lsjsonEntry
	if err := json.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return fmt.Errorf("parsing hash listing for %s: %w", s, err)
	}

	for _, e := range entries {
		if len(e.Hashes) > 0 {
			curr.AmendHashes(e.Path, e.Hashes)
		}
	}

	r.logger.Debug("updated hashes", "side", s, "files", len(entries))

	return nil
}

// parseListing converts lsjson output into a Listing, translating RFC3339
// ModTime strings to epoch seconds.
func parseListing(raw string) (*listing.Listing, error) {
	var entries []lsjsonEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parsing lsjson output: %w", err)
	}

	files := make([]*listing.File, 0, len(entries))

	for _, e := range entries {
		f := &listing.File{Path: e.Path, Size: e.Size, Hashes: e.Hashes}

		if e.ModTime != "" {
			if t, err := time.Parse(time.RFC3339Nano, e.ModTime); err == nil {
				sec := float64(t.UnixNano()) / float64(time.Second)
				f.ModTime = &sec
			}
		}

		files = append(files, f)
	}

	return listing.New(files...)
}
