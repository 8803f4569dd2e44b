package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/listing"
	"github.com/MrJman006/syncrclone/internal/rclone"

	"golang.org/x/sync/errgroup"
)

// Runner orchestrates one sync run: locking, listing acquisition,
// reconciliation, optional confirmation, dispatch, and log shipping.
type Runner struct {
	cfg    *config.Config
	rc     *rclone.Rclone
	logger *slog.Logger

	// Confirm is consulted in interactive mode after the plan is rendered.
	// Returning false aborts the run before any action is dispatched.
	Confirm func(rendered string) bool

	// Stdout receives the rendered plan in dry-run and interactive modes.
	Stdout io.Writer

	// LogFile is the local path of the live run log, shipped to both
	// workdirs at the end of the run when save_logs is enabled.
	LogFile string
}

// NewRunner builds a runner over the given driver.
func NewRunner(cfg *config.Config, rc *rclone.Rclone, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		cfg:    cfg,
		rc:     rc,
		logger: logger,
		Stdout: os.Stdout,
	}
}

// Run performs a full sync run. On error the run aborts where it stands:
// locks stay in place for inspection and the state push never happens, so
// the next run re-reconciles from the last consistent prev.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.rc.CheckLock(ctx); err != nil {
		return err
	}

	if err := r.rc.Lock(ctx); err != nil {
		return err
	}

	currA, prevA, currB, prevB, err := r.acquire(ctx)
	if err != nil {
		return err
	}

	rec := NewReconciler(*r.cfg, r.logger)
	plan := rec.Reconcile(currA, prevA, currB, prevB)

	if r.cfg.DryRun {
		fmt.Fprint(r.Stdout, Render(plan))
		r.logger.Info("dry run: no actions dispatched")

		return r.finish(ctx)
	}

	if r.cfg.Interactive {
		rendered := Render(plan)
		fmt.Fprint(r.Stdout, rendered)

		if r.Confirm == nil || !r.Confirm(rendered) {
			r.logger.Info("aborted at interactive prompt")

			return r.finish(ctx)
		}
	}

	disp := NewDispatcher(r.cfg, r.rc, r.logger)
	if err := disp.Dispatch(ctx, plan); err != nil {
		return err
	}

	return r.finish(ctx)
}

// acquire lists both sides concurrently. Each side's listing includes its
// prior state, hash reuse, and back-fill.
func (r *Runner) acquire(ctx context.Context) (currA, prevA, currB, prevB *listing.Listing, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		currA, prevA, err = r.rc.FileList(gctx, config.A)

		return err
	})

	g.Go(func() error {
		var err error
		currB, prevB, err = r.rc.FileList(gctx, config.B)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}

	return currA, prevA, currB, prevB, nil
}

// finish releases the locks and ships the run log.
func (r *Runner) finish(ctx context.Context) error {
	if err := r.rc.BreakLock(ctx, "both"); err != nil {
		return err
	}

	if !r.cfg.SaveLogs || r.LogFile == "" {
		return nil
	}

	logName := r.cfg.Now + "_" + r.cfg.Name + ".log"

	for _, s := range config.Sides() {
		if err := r.rc.CopyLog(ctx, s, r.LogFile, logName); err != nil {
			return err
		}
	}

	return nil
}
