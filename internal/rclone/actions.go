package rclone

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrJman006/syncrclone/internal/config"
)

// noTraverseMax is the payload size up to which --no-traverse is added to
// transfers: with few files, skipping the destination listing wins.
const noTraverseMax = 100

// writeFilesFrom writes one path per line into a uniquely-named temp file
// for --files-from and returns its path.
func (r *Rclone) writeFilesFrom(name string, paths []string) (string, error) {
	fh, err := os.CreateTemp(r.cfg.TempDir, name+"-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating files-from list: %w", err)
	}
	defer fh.Close()

	if _, err := fh.WriteString(strings.Join(paths, "\n")); err != nil {
		return "", fmt.Errorf("writing files-from list: %w", err)
	}

	return fh.Name(), nil
}

// actionArgs is the common prefix for write operations: quiet stats, no
// destination checks (destinations are known to be absent), plus the global
// and per-side user flags.
func (r *Rclone) actionArgs(s config.Side) []string {
	args := append([]string{}, statFlags...)
	args = append(args, writeFlags...)

	return append(args, r.sideArgs(s)...)
}

// DeleteBackupMove performs one side's mutations in the required order:
// deletes routed through the backup tree, renames, backups of files about
// to be overwritten, and plain deletes. Bulk stages are single --files-from
// calls; individual moveto calls fan out on a bounded worker pool.
func (r *Rclone) DeleteBackupMove(
	ctx context.Context,
	s config.Side,
	delsBackup, delsPlain, backups []string,
	moves [][2]string,
) error {
	remote := r.cfg.Remote(s)

	// Deletes with backup: a server-side move into the backup tree.
	if len(delsBackup) > 0 {
		r.logger.Info("deleting with backup", "side", s, "files", len(delsBackup))

		fromFile, err := r.writeFilesFrom(string(s)+"_movedel", delsBackup)
		if err != nil {
			return err
		}

		args := append([]string{"move"}, r.actionArgs(s)...)
		args = append(args, "--retries", "4", "--files-from", fromFile, remote, r.cfg.BackupPath(s))

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	if err := r.doMoves(ctx, s, moves); err != nil {
		return err
	}

	// Backups: preserve soon-to-be-overwritten files. Server-side copy when
	// the remote supports it (or the user forces it), otherwise move — the
	// file is about to be replaced either way.
	if len(backups) > 0 {
		verb, err := r.backupVerb(ctx, s)
		if err != nil {
			return err
		}

		r.logger.Info("backing up", "side", s, "files", len(backups), "verb", verb)

		fromFile, err := r.writeFilesFrom(string(s)+"_backup", backups)
		if err != nil {
			return err
		}

		args := append([]string{verb}, r.actionArgs(s)...)
		args = append(args, "--retries", "4", "--files-from", fromFile, remote, r.cfg.BackupPath(s))

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	// Deletes without backup.
	if len(delsPlain) > 0 {
		r.logger.Info("deleting", "side", s, "files", len(delsPlain))

		fromFile, err := r.writeFilesFrom(string(s)+"_del", delsPlain)
		if err != nil {
			return err
		}

		args := append([]string{"delete"}, r.actionArgs(s)...)
		args = append(args, "--files-from", fromFile, remote)

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	return nil
}

// backupVerb selects copy or move for the backup stage: forced by
// backup_with_copy when set, otherwise copy iff the remote supports
// server-side copy.
func (r *Rclone) backupVerb(ctx context.Context, s config.Side) (string, error) {
	if forced := r.cfg.BackupWithCopy; forced != nil {
		if *forced {
			return "copy", nil
		}

		return "move", nil
	}

	feat, err := r.Features(ctx, s)
	if err != nil {
		return "", err
	}

	if feat.Copy {
		return "copy", nil
	}

	return "move", nil
}

// doMoves executes renames: ungrouped pairs as parallel moveto calls,
// grouped pairs as sequential `move --files-from` calls.
func (r *Rclone) doMoves(ctx context.Context, s config.Side, moves [][2]string) error {
	if len(moves) == 0 {
		return nil
	}

	remote := r.cfg.Remote(s)
	movetos, groups := groupMoves(moves)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ActionThreads)

	for _, mv := range movetos {
		mv := mv

		g.Go(func() error {
			r.logger.Info("move", "side", s, "src", mv[0], "dst", mv[1])

			args := append([]string{"moveto"}, r.actionArgs(s)...)
			args = append(args,
				config.JoinRemote(remote, mv[0]),
				config.JoinRemote(remote, mv[1]),
			)

			_, err := r.call(gctx, callSpec{args: args})

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Grouped moves run after the pool drains, one agent call per group.
	keys := make([][2]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}

		return keys[i][1] < keys[j][1]
	})

	for _, key := range keys {
		files := groups[key]
		sort.Strings(files)

		r.logger.Info("grouped move",
			"side", s, "srcdir", key[0], "dstdir", key[1], "files", len(files))

		fromFile, err := r.writeFilesFrom(string(s)+"_move", files)
		if err != nil {
			return err
		}

		args := append([]string{"move"}, r.actionArgs(s)...)
		args = append(args,
			config.JoinRemote(remote, key[0]),
			config.JoinRemote(remote, key[1]),
			"--files-from", fromFile,
		)

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	return nil
}

// groupMoves splits rename pairs into individual moveto operations and
// grouped `move src_dir dst_dir --files-from` operations.
//
// For each pair the longest common suffix of path components becomes a
// candidate shared filename; pairs sharing the resulting (src_dir, dst_dir)
// prefix pair are grouped, which turns a moved directory into a single
// agent call. Pairs with no common suffix, and groups of one, stay moveto.
func groupMoves(moves [][2]string) (movetos [][2]string, groups map[[2]string][]string) {
	groups = make(map[[2]string][]string)

	for _, mv := range moves {
		sparts := strings.Split(mv[0], "/")
		dparts := strings.Split(mv[1], "/")

		common := commonSuffixLen(sparts, dparts)
		if common == 0 {
			movetos = append(movetos, mv)

			continue
		}

		key := [2]string{
			strings.Join(sparts[:len(sparts)-common], "/"),
			strings.Join(dparts[:len(dparts)-common], "/"),
		}

		groups[key] = append(groups[key], strings.Join(sparts[len(sparts)-common:], "/"))
	}

	for key, files := range groups {
		if len(files) > 1 {
			continue
		}

		movetos = append(movetos, [2]string{
			config.JoinRemote(key[0], files[0]),
			config.JoinRemote(key[1], files[0]),
		})

		delete(groups, key)
	}

	return movetos, groups
}

// commonSuffixLen counts how many trailing path components a and b share.
// The shorter path may be consumed entirely, leaving an empty prefix (a
// move from the remote root).
func commonSuffixLen(a, b []string) int {
	n := 0

	for n < len(a) && n < len(b) {
		if a[len(a)-1-n] != b[len(b)-1-n] {
			break
		}

		n++
	}

	return n
}

// Transfer copies files from one side to the other. The payload is split by
// whether the destination's size already matches: size-changed files go
// with --size-only (always transfer), size-matched files rely on the
// configured comparison (--checksum for hash mode; the agent's ModTime
// default otherwise — size compare cannot produce a size-matched payload).
func (r *Rclone) Transfer(ctx context.Context, from config.Side, matched, diff []string) error {
	if len(matched) == 0 && len(diff) == 0 {
		return nil
	}

	src := r.cfg.Remote(from)
	dst := r.cfg.Remote(from.Other())

	base := append([]string{"copy"}, statFlags...)
	base = append(base, r.cfg.RcloneFlags...)

	if len(diff) > 0 {
		r.logger.Info("transferring (size changed)",
			"from", from, "to", from.Other(), "files", len(diff))

		args := append(append([]string{}, base...), "--size-only")
		if len(diff) <= noTraverseMax {
			args = append(args, "--no-traverse")
		}

		fromFile, err := r.writeFilesFrom(string(from)+"_transfer_diff", diff)
		if err != nil {
			return err
		}

		args = append(args, "--files-from", fromFile, src, dst)

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	if len(matched) > 0 {
		r.logger.Info("transferring (size matched)",
			"from", from, "to", from.Other(), "files", len(matched))

		args := append([]string{}, base...)
		if r.cfg.Compare == "hash" {
			args = append(args, "--checksum")
		}

		if len(matched) <= noTraverseMax {
			args = append(args, "--no-traverse")
		}

		fromFile, err := r.writeFilesFrom(string(from)+"_transfer_matched", matched)
		if err != nil {
			return err
		}

		args = append(args, "--files-from", fromFile, src, dst)

		if _, err := r.call(ctx, callSpec{args: args, stream: true}); err != nil {
			return err
		}
	}

	return nil
}

// Rmdirs removes now-empty directories left behind by deletes and moves.
// The roots are ancestor-deduplicated (rmdirs recurses) and removed on a
// bounded pool. Per-root failures are tolerated: a directory that is not
// actually empty should simply stay.
func (r *Rclone) Rmdirs(ctx context.Context, s config.Side, dirs []string) error {
	if len(dirs) == 0 {
		return nil
	}

	feat, err := r.Features(ctx, s)
	if err != nil {
		return err
	}

	if !feat.CanHaveEmptyDirectories {
		r.logger.Debug("remote cannot hold empty directories; skipping rmdirs", "side", s)

		return nil
	}

	roots := rootDirs(dirs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ActionThreads)

	for _, dir := range roots {
		dir := dir

		g.Go(func() error {
			r.logger.Info("rmdirs (if empty)", "side", s, "dir", dir)

			args := append(r.sideArgs(s), "rmdirs")
			args = append(args, statFlags...)
			args = append(args, "--retries", "1", config.JoinRemote(r.cfg.Remote(s), dir))

			if _, err := r.call(gctx, callSpec{args: args, quiet: true}); err != nil {
				r.logger.Debug("could not remove directory", "side", s, "dir", dir)
			}

			return nil
		})
	}

	return g.Wait()
}

// rootDirs sorts the directories and drops any that sit under an earlier
// kept root.
func rootDirs(dirs []string) []string {
	sorted := append([]string{}, dirs...)
	sort.Strings(sorted)

	var roots []string

	for _, dir := range sorted {
		under := false

		for _, root := range roots {
			if strings.HasPrefix(dir, root+"/") || dir == root {
				under = true

				break
			}
		}

		if !under {
			roots = append(roots, dir)
		}
	}

	return roots
}

// CopyLog uploads the run log into a side's workdir under logs/.
func (r *Rclone) CopyLog(ctx context.Context, s config.Side, srcFile, logName string) error {
	dst := config.JoinRemote(r.cfg.Workdir(s), config.JoinRemote("logs", logName))

	args := append([]string{"copyto"}, statFlags...)
	args = append(args, r.sideArgs(s)...)
	args = append(args, writeFlags...)
	args = append(args, srcFile, dst)

	_, err := r.call(ctx, callSpec{args: args, stream: true})

	return err
}
