package sync

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/MrJman006/syncrclone/internal/config"
)

// Render formats the plan for dry-run output and the interactive
// confirmation prompt. Paths are already sorted by the reconciler.
func Render(plan *Plan) string {
	if plan.Empty() {
		return "Nothing to do: both sides are in sync.\n"
	}

	var b strings.Builder

	for _, s := range config.Sides() {
		renderSide(&b, plan, s)
	}

	return b.String()
}

func renderSide(b *strings.Builder, plan *Plan, s config.Side) {
	sp := plan.Side(s)
	if sp.empty() {
		return
	}

	fmt.Fprintf(b, "Side %s:\n", s)

	if len(sp.Delete) > 0 {
		fmt.Fprintf(b, "  delete (%d):\n", len(sp.Delete))

		for _, p := range sp.Delete {
			fmt.Fprintf(b, "    %s\n", p)
		}
	}

	for _, mv := range sp.Moves {
		fmt.Fprintf(b, "  move: %s -> %s\n", mv.Src, mv.Dst)
	}

	for _, mv := range sp.Tags {
		fmt.Fprintf(b, "  tag:  %s -> %s\n", mv.Src, mv.Dst)
	}

	if len(sp.Backup) > 0 {
		fmt.Fprintf(b, "  backup before overwrite (%d):\n", len(sp.Backup))

		for _, p := range sp.Backup {
			fmt.Fprintf(b, "    %s\n", p)
		}
	}

	if len(sp.TransferIn) > 0 {
		var total uint64

		src := plan.Curr(s.Other())
		for _, p := range sp.TransferIn {
			if f := src.GetPath(p); f != nil && f.Size > 0 {
				total += uint64(f.Size)
			}
		}

		fmt.Fprintf(b, "  copy %s -> %s (%d files, %s):\n",
			s.Other(), s, len(sp.TransferIn), humanize.Bytes(total))

		for _, p := range sp.TransferIn {
			fmt.Fprintf(b, "    %s\n", p)
		}
	}
}
