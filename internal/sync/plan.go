// Package sync implements the reconciliation engine and the action
// dispatcher: given two current and two prior listings it computes a
// minimal, conflict-aware plan of transfers, renames, deletes, and backups,
// then drives the agent to execute it.
package sync

import (
	"fmt"
	"path"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/listing"
)

// Move is an ordered rename pair of remote-relative paths.
type Move struct {
	Src string
	Dst string
}

// SidePlan is one side's share of the plan. A path appears in at most one
// category, except Backup which may co-occur with TransferIn (preserve the
// old copy before overwrite); deletes are preserved by being executed as
// moves into the backup tree rather than through Backup.
type SidePlan struct {
	// TransferIn lists paths to copy from the other side onto this one.
	TransferIn []string

	// Delete lists paths to remove. Whether they are routed through the
	// backup tree is a run-level setting applied at dispatch.
	Delete []string

	// Moves are server-side renames mirroring the other side's renames.
	Moves []Move

	// Backup lists paths preserved into the run's backup tree before being
	// overwritten by a transfer.
	Backup []string

	// Tags are conflict-marker renames: the file is kept under a
	// run-and-side-tagged name.
	Tags []Move
}

func (sp *SidePlan) empty() bool {
	return len(sp.TransferIn) == 0 && len(sp.Delete) == 0 &&
		len(sp.Moves) == 0 && len(sp.Backup) == 0 && len(sp.Tags) == 0
}

// Plan is the reconciliation output: per-side action sets, the immutable
// current listings they were computed from, and the synthesized next agreed
// state for each side.
type Plan struct {
	A SidePlan
	B SidePlan

	// CurrA and CurrB are the listings the plan was computed from.
	CurrA *listing.Listing
	CurrB *listing.Listing

	// NextA and NextB are the listings both sides should show once the
	// plan has been applied; they become prev for the next run.
	NextA *listing.Listing
	NextB *listing.Listing
}

// Side returns one side's plan.
func (p *Plan) Side(s config.Side) *SidePlan {
	if s == config.A {
		return &p.A
	}

	return &p.B
}

// Curr returns the current listing the plan was computed from for a side.
func (p *Plan) Curr(s config.Side) *listing.Listing {
	if s == config.A {
		return p.CurrA
	}

	return p.CurrB
}

// Next returns the synthesized next agreed listing for a side.
func (p *Plan) Next(s config.Side) *listing.Listing {
	if s == config.A {
		return p.NextA
	}

	return p.NextB
}

// Empty reports whether the plan contains no actions at all.
func (p *Plan) Empty() bool {
	return p.A.empty() && p.B.empty()
}

// Validate checks the plan's structural invariants: per side, the action
// categories are disjoint except for the documented Backup co-occurrence
// with TransferIn.
func (p *Plan) Validate() error {
	for _, s := range config.Sides() {
		if err := p.Side(s).validate(s); err != nil {
			return err
		}
	}

	return nil
}

func (sp *SidePlan) validate(s config.Side) error {
	seen := map[string]string{}

	claim := func(p, category string) error {
		if prior, ok := seen[p]; ok {
			return fmt.Errorf("plan: path %q on side %s in both %s and %s", p, s, prior, category)
		}

		seen[p] = category

		return nil
	}

	for _, pth := range sp.TransferIn {
		if err := claim(pth, "transfer_in"); err != nil {
			return err
		}
	}

	for _, pth := range sp.Delete {
		if err := claim(pth, "delete"); err != nil {
			return err
		}
	}

	for _, mv := range sp.Moves {
		if err := claim(mv.Src, "move"); err != nil {
			return err
		}

		if err := claim(mv.Dst, "move"); err != nil {
			return err
		}
	}

	for _, mv := range sp.Tags {
		if err := claim(mv.Dst, "tag"); err != nil {
			return err
		}
	}

	// A tag source is preserved by the rename and may then be overwritten
	// by a transfer, the same way a backed-up path may be.
	for _, mv := range sp.Tags {
		if cat, ok := seen[mv.Src]; ok && cat != "transfer_in" {
			return fmt.Errorf("plan: tag source %q on side %s co-occurs with %s", mv.Src, s, cat)
		}
	}

	// Backup may only co-occur with transfer_in.
	for _, pth := range sp.Backup {
		if cat, ok := seen[pth]; ok && cat != "transfer_in" {
			return fmt.Errorf("plan: backup path %q on side %s co-occurs with %s", pth, s, cat)
		}
	}

	return nil
}

// EmptyDirCandidates returns the parent directories of every path this plan
// removes or moves away on the given side. They are rmdirs roots once the
// plan has executed.
func (p *Plan) EmptyDirCandidates(s config.Side) []string {
	sp := p.Side(s)

	set := map[string]bool{}

	add := func(file string) {
		dir := path.Dir(file)
		if dir != "." && dir != "/" {
			set[dir] = true
		}
	}

	for _, pth := range sp.Delete {
		add(pth)
	}

	for _, mv := range sp.Moves {
		add(mv.Src)
	}

	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}

	return dirs
}
