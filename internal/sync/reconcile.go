package sync

import (
	"log/slog"
	"path"
	"sort"

	"github.com/MrJman006/syncrclone/internal/config"
	"github.com/MrJman006/syncrclone/internal/listing"
)

// Reconciler computes a Plan from four listings: each side's current state
// and the last agreed state. It is pure — no I/O, no mutation of its inputs
// — so dry-run is simply a reconcile without dispatch.
type Reconciler struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewReconciler builds a reconciler. The config is taken by value: the
// engine never discovers options at runtime.
func NewReconciler(cfg config.Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{cfg: cfg, logger: logger}
}

// pstate is a path's classification on one side.
type pstate int

const (
	stateAbsent pstate = iota
	stateNew
	stateDeleted
	stateModified
	stateUnchanged
)

// sideSets holds one side's classification working state. Rename detection
// removes matched pairs from news/deleted; unwinding puts them back.
type sideSets struct {
	side config.Side
	curr *listing.Listing
	prev *listing.Listing

	news     map[string]*listing.File
	deleted  map[string]*listing.File
	modified map[string]bool

	renames []Move
}

func (ss *sideSets) state(p string) pstate {
	if _, ok := ss.news[p]; ok {
		return stateNew
	}

	if _, ok := ss.deleted[p]; ok {
		return stateDeleted
	}

	if ss.modified[p] {
		return stateModified
	}

	if ss.curr.GetPath(p) != nil {
		return stateUnchanged
	}

	return stateAbsent
}

// Reconcile classifies every file on both sides, detects renames,
// cross-correlates the sides, resolves conflicts, and returns the plan
// together with the synthesized next agreed listings.
func (r *Reconciler) Reconcile(currA, prevA, currB, prevB *listing.Listing) *Plan {
	plan := &Plan{CurrA: currA, CurrB: currB}

	sides := map[config.Side]*sideSets{
		config.A: r.classify(config.A, currA, prevA),
		config.B: r.classify(config.B, currB, prevB),
	}

	for _, s := range config.Sides() {
		r.detectRenames(sides[s])
	}

	r.pairRenames(plan, sides)
	r.pairPaths(plan, sides)
	r.synthesizeNext(plan, sides)
	sortPlan(plan)

	r.logger.Info("reconciliation complete",
		"transfers_to_A", len(plan.A.TransferIn),
		"transfers_to_B", len(plan.B.TransferIn),
		"deletes_A", len(plan.A.Delete),
		"deletes_B", len(plan.B.Delete),
		"moves_A", len(plan.A.Moves),
		"moves_B", len(plan.B.Moves),
		"backups_A", len(plan.A.Backup),
		"backups_B", len(plan.B.Backup),
		"tags_A", len(plan.A.Tags),
		"tags_B", len(plan.B.Tags),
	)

	return plan
}

// classify partitions one side's curr and prev by path into new, deleted,
// and common, and marks the common entries that changed under the compare
// mode.
func (r *Reconciler) classify(s config.Side, curr, prev *listing.Listing) *sideSets {
	ss := &sideSets{
		side:     s,
		curr:     curr,
		prev:     prev,
		news:     map[string]*listing.File{},
		deleted:  map[string]*listing.File{},
		modified: map[string]bool{},
	}

	for _, f := range curr.Files() {
		old := prev.GetPath(f.Path)
		if old == nil {
			ss.news[f.Path] = f

			continue
		}

		if r.differ(f, old) {
			ss.modified[f.Path] = true
			r.logger.Debug("modified", "side", s, "path", f.Path)
		}
	}

	for _, f := range prev.Files() {
		if curr.GetPath(f.Path) == nil {
			ss.deleted[f.Path] = f
		}
	}

	return ss
}

// detectRenames matches this side's new files against its deleted files on
// the configured rename attribute. Matches must be one-to-one: a candidate
// that matches several files, or is matched by several, stays an
// independent new/deleted pair.
func (r *Reconciler) detectRenames(ss *sideSets) {
	attr := r.cfg.Renames(ss.side)
	if attr == "none" || len(ss.news) == 0 || len(ss.deleted) == 0 {
		return
	}

	bySize := map[int64][]*listing.File{}
	for _, f := range ss.deleted {
		bySize[f.Size] = append(bySize[f.Size], f)
	}

	candidates := map[string][]string{}
	matchCount := map[string]int{}

	for np, nf := range ss.news {
		var cands []string

		switch attr {
		case "size":
			for _, df := range bySize[nf.Size] {
				cands = append(cands, df.Path)
			}

		case "mtime":
			// mtime rename identity is size plus timestamp within
			// tolerance.
			for _, df := range bySize[nf.Size] {
				if !r.mtimeDiffer(nf, df) {
					cands = append(cands, df.Path)
				}
			}

		case "hash":
			for dp, df := range ss.deleted {
				if differ, compared := hashDiffer(nf, df); compared && !differ {
					cands = append(cands, dp)
				}
			}
		}

		candidates[np] = cands
		for _, d := range cands {
			matchCount[d]++
		}
	}

	for np, cands := range candidates {
		if len(cands) != 1 || matchCount[cands[0]] != 1 {
			continue
		}

		dp := cands[0]

		r.logger.Debug("rename detected", "side", ss.side, "from", dp, "to", np)

		ss.renames = append(ss.renames, Move{Src: dp, Dst: np})
		delete(ss.news, np)
		delete(ss.deleted, dp)
	}

	sort.Slice(ss.renames, func(i, j int) bool { return ss.renames[i].Src < ss.renames[j].Src })
}

// pairRenames resolves detected renames across sides. A rename mirrored
// identically on both sides needs no action. A rename whose counterpart
// side still holds the source unchanged and lacks the destination becomes a
// server-side move on that side. Anything else unwinds back into
// independent new/deleted entries and flows through the normal pairing.
func (r *Reconciler) pairRenames(plan *Plan, sides map[config.Side]*sideSets) {
	consumed := map[config.Side]map[Move]bool{
		config.A: {},
		config.B: {},
	}

	hasRename := func(ss *sideSets, mv Move) bool {
		for _, m := range ss.renames {
			if m == mv {
				return true
			}
		}

		return false
	}

	for _, s := range config.Sides() {
		ss := sides[s]
		other := sides[s.Other()]

		for _, mv := range ss.renames {
			if consumed[s][mv] {
				continue
			}

			if hasRename(other, mv) {
				// Both sides performed the same rename.
				r.logger.Debug("rename already mirrored", "side", s, "from", mv.Src, "to", mv.Dst)
				consumed[s][mv] = true
				consumed[s.Other()][mv] = true

				continue
			}

			srcClean := other.state(mv.Src) == stateUnchanged
			dstFree := other.curr.GetPath(mv.Dst) == nil

			if srcClean && dstFree {
				r.logger.Debug("mirroring rename",
					"on", s.Other(), "from", mv.Src, "to", mv.Dst)
				plan.Side(s.Other()).Moves = append(plan.Side(s.Other()).Moves, mv)

				continue
			}

			// The other side changed under this rename; fall back to
			// delete + new and let the pairing matrix sort it out.
			r.logger.Debug("unwinding rename", "side", s, "from", mv.Src, "to", mv.Dst)
			ss.news[mv.Dst] = ss.curr.GetPath(mv.Dst)
			ss.deleted[mv.Src] = ss.prev.GetPath(mv.Src)
		}
	}
}

// pairPaths walks every path that changed on either side and applies the
// cross-side decision matrix.
func (r *Reconciler) pairPaths(plan *Plan, sides map[config.Side]*sideSets) {
	ssA := sides[config.A]
	ssB := sides[config.B]

	pathSet := map[string]bool{}

	for _, ss := range sides {
		for p := range ss.news {
			pathSet[p] = true
		}

		for p := range ss.deleted {
			pathSet[p] = true
		}

		for p := range ss.modified {
			pathSet[p] = true
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		r.pairPath(plan, p, ssA, ssB)
	}
}

// pairPath classifies one path's (A-state, B-state) pair into an action.
func (r *Reconciler) pairPath(plan *Plan, p string, ssA, ssB *sideSets) {
	sa := ssA.state(p)
	sb := ssB.state(p)

	switch {
	case sa == stateDeleted && sb == stateDeleted:
		// Deleted on both: agreed.

	case sa == stateDeleted && sb == stateAbsent,
		sb == stateDeleted && sa == stateAbsent:
		// Deleted on one side, never present on the other.

	case sa == stateDeleted && sb == stateUnchanged:
		r.logger.Debug("delete", "path", p, "on", config.B)
		plan.B.Delete = append(plan.B.Delete, p)

	case sb == stateDeleted && sa == stateUnchanged:
		r.logger.Debug("delete", "path", p, "on", config.A)
		plan.A.Delete = append(plan.A.Delete, p)

	case sa == stateDeleted:
		// B modified or recreated the file A deleted.
		r.deleteConflict(plan, p, config.B)

	case sb == stateDeleted:
		r.deleteConflict(plan, p, config.A)

	case sa == stateAbsent:
		// New or drifted-in on B only.
		r.transfer(plan, config.B, p)

	case sb == stateAbsent:
		r.transfer(plan, config.A, p)

	case sa == stateModified && sb == stateUnchanged:
		r.transfer(plan, config.A, p)

	case sb == stateModified && sa == stateUnchanged:
		r.transfer(plan, config.B, p)

	default:
		// Both present and changed (new/new, modified/modified, or a
		// mixture). Identical content needs no action.
		fa := ssA.curr.GetPath(p)
		fb := ssB.curr.GetPath(p)

		if !r.differ(fa, fb) {
			r.logger.Debug("both changed but identical", "path", p)

			return
		}

		r.conflict(plan, p, fa, fb)
	}
}

// transfer schedules a copy of path p from one side onto the other, backing
// up the destination's existing copy when there is one.
func (r *Reconciler) transfer(plan *Plan, from config.Side, p string) {
	to := from.Other()

	r.logger.Debug("transfer", "path", p, "from", from, "to", to)

	plan.Side(to).TransferIn = append(plan.Side(to).TransferIn, p)

	if r.cfg.Backup && plan.Curr(to).GetPath(p) != nil {
		plan.Side(to).Backup = append(plan.Side(to).Backup, p)
	}
}

// conflict resolves a both-sides-changed path per conflict_mode.
func (r *Reconciler) conflict(plan *Plan, p string, fa, fb *listing.File) {
	win := r.winner(fa, fb)

	if win == "" {
		// No winner: keep both files, each under a tagged name, and let
		// both propagate as new files.
		tagA := tagPath(p, r.cfg.Now, config.A)
		tagB := tagPath(p, r.cfg.Now, config.B)

		r.logger.Info("conflict: tagging both", "path", p)

		plan.A.Tags = append(plan.A.Tags, Move{Src: p, Dst: tagA})
		plan.B.Tags = append(plan.B.Tags, Move{Src: p, Dst: tagB})
		plan.B.TransferIn = append(plan.B.TransferIn, tagA)
		plan.A.TransferIn = append(plan.A.TransferIn, tagB)

		return
	}

	lose := win.Other()

	r.logger.Info("conflict", "path", p, "winner", win)

	if r.cfg.TagConflict {
		// Keep the loser under a tagged name on its own side; the tagged
		// file then propagates to the winner's side as a new file.
		tagged := tagPath(p, r.cfg.Now, lose)

		plan.Side(lose).Tags = append(plan.Side(lose).Tags, Move{Src: p, Dst: tagged})
		plan.Side(lose).TransferIn = append(plan.Side(lose).TransferIn, p)
		plan.Side(win).TransferIn = append(plan.Side(win).TransferIn, tagged)

		return
	}

	r.transfer(plan, win, p)
}

// deleteConflict handles a path deleted on one side and changed on the
// other. An explicit A/B conflict_mode is honored even when it propagates
// the delete; every other mode keeps the surviving file — there is nothing
// to compare a deletion against.
func (r *Reconciler) deleteConflict(plan *Plan, p string, present config.Side) {
	absent := present.Other()

	if r.cfg.ConflictMode == string(absent) {
		r.logger.Info("delete conflict: delete wins", "path", p, "on", present)
		plan.Side(present).Delete = append(plan.Side(present).Delete, p)

		return
	}

	r.logger.Info("delete conflict: surviving file wins", "path", p, "from", present)
	r.transfer(plan, present, p)
}

// winner picks the side whose copy survives a conflict, or "" when
// conflict_mode keeps both. Ties and missing attributes break to A.
func (r *Reconciler) winner(fa, fb *listing.File) config.Side {
	switch r.cfg.ConflictMode {
	case "A":
		return config.A

	case "B":
		return config.B

	case "newer", "older":
		if fa.ModTime == nil || fb.ModTime == nil {
			r.logger.Warn("conflict needs mtime on both sides; falling back to A",
				"path", fa.Path, "mode", r.cfg.ConflictMode)

			return config.A
		}

		if r.cfg.ConflictMode == "newer" {
			if *fb.ModTime > *fa.ModTime {
				return config.B
			}

			return config.A
		}

		if *fb.ModTime < *fa.ModTime {
			return config.B
		}

		return config.A

	case "larger":
		if fb.Size > fa.Size {
			return config.B
		}

		return config.A

	case "smaller":
		if fb.Size < fa.Size {
			return config.B
		}

		return config.A

	default: // tag, none
		return ""
	}
}

// tagPath disambiguates a conflicting path with the run id and side,
// keeping the extension: "doc/a.txt" becomes "doc/a.20250102T030405.A.txt".
func tagPath(p, runID string, s config.Side) string {
	ext := path.Ext(p)
	base := p[:len(p)-len(ext)]

	return base + "." + runID + "." + string(s) + ext
}

// synthesizeNext builds the post-apply listing for each side: curr with
// renames and tags re-pathed and deletes removed, then transfers copied
// across from the other side's intermediate state.
func (r *Reconciler) synthesizeNext(plan *Plan, sides map[config.Side]*sideSets) {
	inter := map[config.Side]*listing.Listing{}

	for _, s := range config.Sides() {
		next := sides[s].curr.Clone()
		sp := plan.Side(s)

		for _, mv := range append(append([]Move{}, sp.Tags...), sp.Moves...) {
			f := next.GetPath(mv.Src)
			if f == nil {
				continue
			}

			next.Remove(mv.Src)

			moved := f.Clone()
			moved.Path = mv.Dst
			_ = next.Insert(moved)
		}

		for _, p := range sp.Delete {
			next.Remove(p)
		}

		inter[s] = next
	}

	for _, s := range config.Sides() {
		next := inter[s]

		for _, p := range plan.Side(s).TransferIn {
			src := inter[s.Other()].GetPath(p)
			if src == nil {
				continue
			}

			next.Remove(p)
			_ = next.Insert(src.Clone())
		}
	}

	plan.NextA = inter[config.A]
	plan.NextB = inter[config.B]
}

// sortPlan orders every plan slice for deterministic output and rendering.
func sortPlan(plan *Plan) {
	for _, s := range config.Sides() {
		sp := plan.Side(s)

		sort.Strings(sp.TransferIn)
		sort.Strings(sp.Delete)
		sort.Strings(sp.Backup)
		sort.Slice(sp.Moves, func(i, j int) bool { return sp.Moves[i].Src < sp.Moves[j].Src })
		sort.Slice(sp.Tags, func(i, j int) bool { return sp.Tags[i].Src < sp.Tags[j].Src })
	}
}
