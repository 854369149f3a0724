// Package merge implements ancestor-graph LCA computation, two-way and
// three-way tree diffing, conflict classification, and the merge engine
// that turns (base, ours, theirs) into a merged tree plus any conflicts a
// strategy left unresolved.
package merge

import (
	"context"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
)

// Strategy selects how a Recursive-style conflict is resolved.
type Strategy int

const (
	// Recursive leaves conflicts unresolved for binaries: the result tree
	// keeps ours's content at a conflicted path, and the conflict is
	// reported so a caller (or a media-aware plug-in above the core) can
	// resolve it explicitly.
	Recursive Strategy = iota
	// Ours resolves every conflict in favor of ours's blob.
	Ours
	// Theirs resolves every conflict in favor of theirs's blob.
	Theirs
)

// Result is the outcome of a merge: the tree OID to use as the merge
// commit's root, and any conflicts a Recursive strategy left unresolved.
type Result struct {
	TreeOID     oid.OID
	Conflicts   []Conflict
	FastForward bool
}

// Merge combines base, ours, and theirs per strategy. Fast-forward short
// circuits: if base == ours, theirs's tree is the result verbatim (and
// symmetrically for base == theirs) with no conflicts and no new tree to
// build.
func Merge(ctx context.Context, store Store, base, ours, theirs oid.OID, strategy Strategy) (Result, error) {
	if base == ours {
		return Result{TreeOID: theirs, FastForward: true}, nil
	}
	if base == theirs {
		return Result{TreeOID: ours, FastForward: true}, nil
	}

	baseMap, err := flattenTree(ctx, store, base)
	if err != nil {
		return Result{}, err
	}
	oursMap, err := flattenTree(ctx, store, ours)
	if err != nil {
		return Result{}, err
	}
	theirsMap, err := flattenTree(ctx, store, theirs)
	if err != nil {
		return Result{}, err
	}

	merged, conflicts := classify(baseMap, oursMap, theirsMap)
	resolveConflicts(merged, conflicts, oursMap, theirsMap, strategy)

	treeOID, err := buildTree(ctx, store, merged)
	if err != nil {
		return Result{}, err
	}

	result := Result{TreeOID: treeOID}
	if strategy == Recursive {
		result.Conflicts = conflicts
	}
	return result, nil
}

// resolveConflicts fills merged with a chosen leaf for every conflicted
// path per strategy. Recursive keeps ours's content (when present) as the
// working placeholder so the result tree always has a definite blob at
// every path, while still surfacing the conflict list to the caller.
func resolveConflicts(merged map[string]leaf, conflicts []Conflict, ours, theirs map[string]leaf, strategy Strategy) {
	for _, c := range conflicts {
		switch strategy {
		case Ours:
			if lf, ok := ours[c.Path]; ok {
				merged[c.Path] = lf
			}
		case Theirs:
			if lf, ok := theirs[c.Path]; ok {
				merged[c.Path] = lf
			}
		default: // Recursive
			if lf, ok := ours[c.Path]; ok {
				merged[c.Path] = lf
			} else if lf, ok := theirs[c.Path]; ok {
				merged[c.Path] = lf
			}
		}
	}
}

// CommitMerge builds a merge commit object from a Result, writes it, and
// returns its OID. Callers typically follow this with a ref update.
func CommitMerge(ctx context.Context, store Store, result Result, parents []oid.OID, author, committer objects.Signature, message string) (oid.OID, error) {
	if len(conflictsBlocking(result)) > 0 {
		return oid.Zero, mgerr.New(mgerr.Conflict, "cannot commit a merge with unresolved conflicts")
	}
	c := objects.Commit{
		TreeOID:   result.TreeOID,
		Parents:   parents,
		Author:    author,
		Committer: committer,
		Message:   message,
	}
	encoded, err := objects.Encode(objects.KindCommit, c)
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "encode merge commit")
	}
	return store.Write(ctx, objects.KindCommit, encoded)
}

func conflictsBlocking(result Result) []Conflict {
	return result.Conflicts
}
