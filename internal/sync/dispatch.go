package sync

import (
	"context"
	"log/slog"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/rclone"
)

// Dispatcher consumes a plan and drives the agent. Per-side mutations run
// in the required order (deletes-with-backup, renames, backups, plain
// deletes), transfers follow once both sides are settled, then empty
// directories are cleaned up and the new agreed state is pushed.
type Dispatcher struct {
	cfg    *config.Config
	rc     *rclone.Rclone
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher over the given driver.
func NewDispatcher(cfg *config.Config, rc *rclone.Rclone, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{cfg: cfg, rc: rc, logger: logger}
}

// Dispatch executes the plan. Any error aborts before the remaining stages
// — in particular before the state push, so the next run re-reconciles from
// the last consistent prev.
func (d *Dispatcher) Dispatch(ctx context.Context, plan *Plan) error {
	for _, s := range config.Sides() {
		if err := d.mutateSide(ctx, s, plan); err != nil {
			return err
		}
	}

	for _, from := range config.Sides() {
		matched, diff := d.splitBySize(plan, from)

		if err := d.rc.Transfer(ctx, from, matched, diff); err != nil {
			return err
		}
	}

	for _, s := range config.Sides() {
		if err := d.rc.Rmdirs(ctx, s, plan.EmptyDirCandidates(s)); err != nil {
			return err
		}
	}

	return d.pushState(ctx, plan)
}

// mutateSide runs stages 1-4 for one side. Conflict tags are same-side
// renames and ride along with the mirrored moves.
func (d *Dispatcher) mutateSide(ctx context.Context, s config.Side, plan *Plan) error {
	sp := plan.Side(s)

	moves := make([][2]string, 0, len(sp.Tags)+len(sp.Moves))
	for _, mv := range sp.Tags {
		moves = append(moves, [2]string{mv.Src, mv.Dst})
	}

	for _, mv := range sp.Moves {
		moves = append(moves, [2]string{mv.Src, mv.Dst})
	}

	var delsBackup, delsPlain []string
	if d.cfg.Backup {
		delsBackup = sp.Delete
	} else {
		delsPlain = sp.Delete
	}

	return d.rc.DeleteBackupMove(ctx, s, delsBackup, delsPlain, sp.Backup, moves)
}

// splitBySize divides the payload headed into from.Other() by whether the
// destination already has a file of the same size. Size-changed (or absent)
// files can transfer with --size-only; size-matched files rely on the
// configured comparison.
func (d *Dispatcher) splitBySize(plan *Plan, from config.Side) (matched, diff []string) {
	to := from.Other()
	src := plan.Curr(from)
	dst := plan.Curr(to)

	for _, p := range plan.Side(to).TransferIn {
		sf := src.GetPath(p)
		df := dst.GetPath(p)

		if sf == nil || df == nil || sf.Size != df.Size {
			diff = append(diff, p)

			continue
		}

		matched = append(matched, p)
	}

	return matched, diff
}

// pushState uploads the next agreed listing to each side. With avoid_relist
// the listings synthesized by the reconciler are pushed directly; otherwise
// both remotes are listed afresh so the saved state reflects what the
// transfers actually produced.
func (d *Dispatcher) pushState(ctx context.Context, plan *Plan) error {
	for _, s := range config.Sides() {
		next := plan.Next(s)

		if !d.cfg.AvoidRelist {
			curr, _, err := d.rc.FileList(ctx, s)
			if err != nil {
				return err
			}

			next = curr
		}

		if err := d.rc.PushState(ctx, s, next); err != nil {
			return err
		}
	}

	return nil
}
