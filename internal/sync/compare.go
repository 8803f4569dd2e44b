package sync

import (
	"math"

	"github.com/MrJman006/syncrclone/internal/listing"
)

// differ reports whether two file entries differ under the configured
// compare mode. It serves both change detection (curr vs prev on one side)
// and cross-side identity ("compare contents" between the two currents).
func (r *Reconciler) differ(a, b *listing.File) bool {
	switch r.cfg.Compare {
	case "size":
		return a.Size != b.Size

	case "mtime":
		// mtime comparison also requires matching sizes: equal timestamps
		// on different content are possible, different sizes never lie.
		return a.Size != b.Size || r.mtimeDiffer(a, b)

	case "hash":
		if differ, compared := hashDiffer(a, b); compared {
			return differ
		}

		return r.hashFallback(a, b)

	default:
		// Unreachable after config validation.
		return true
	}
}

// mtimeDiffer compares modification times within the configured tolerance.
// A missing mtime on either entry counts as a difference: without a
// timestamp there is no evidence the files agree.
func (r *Reconciler) mtimeDiffer(a, b *listing.File) bool {
	if a.ModTime == nil || b.ModTime == nil {
		return true
	}

	return math.Abs(*a.ModTime-*b.ModTime) > r.cfg.DT
}

// hashDiffer compares every hash algorithm the two entries share. compared
// is false when they share none.
func hashDiffer(a, b *listing.File) (differ, compared bool) {
	for algo, digestA := range a.Hashes {
		if digestA == "" {
			continue
		}

		digestB := b.Hashes[algo]
		if digestB == "" {
			continue
		}

		compared = true

		if digestA != digestB {
			return true, true
		}
	}

	return false, compared
}

// hashFallback applies hash_fail_fallback when two entries share no hash
// algorithm: compare by size, by mtime, or treat as unchanged.
func (r *Reconciler) hashFallback(a, b *listing.File) bool {
	switch r.cfg.HashFailFallback {
	case "size":
		return a.Size != b.Size
	case "mtime":
		return a.Size != b.Size || r.mtimeDiffer(a, b)
	default: // none
		r.logger.Debug("no common hash; treating as unchanged", "path", a.Path)

		return false
	}
}
