package merge

import (
	"context"

	"github.com/mediagit/mediagit/oid"
)

// ChangeKind classifies a single-path difference between two trees.
type ChangeKind int

const (
	Added ChangeKind = iota
	Deleted
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change describes how a path differs from one tree to another. OID/Mode
// are the new values (zero for Deleted).
type Change struct {
	Path string
	Kind ChangeKind
	OID  oid.OID
	Mode uint32
}

// Diff performs a two-way comparison of two trees, classifying every path
// present in either as Added, Deleted, or Modified (same name, different
// OID or mode).
func Diff(ctx context.Context, store Store, from, to oid.OID) (map[string]Change, error) {
	fromMap, err := flattenTree(ctx, store, from)
	if err != nil {
		return nil, err
	}
	toMap, err := flattenTree(ctx, store, to)
	if err != nil {
		return nil, err
	}
	return diffMaps(fromMap, toMap), nil
}

func diffMaps(from, to map[string]leaf) map[string]Change {
	out := make(map[string]Change)
	for path, lf := range to {
		old, existed := from[path]
		switch {
		case !existed:
			out[path] = Change{Path: path, Kind: Added, OID: lf.OID, Mode: uint32(lf.Mode)}
		case !old.equal(lf):
			out[path] = Change{Path: path, Kind: Modified, OID: lf.OID, Mode: uint32(lf.Mode)}
		}
	}
	for path := range from {
		if _, still := to[path]; !still {
			out[path] = Change{Path: path, Kind: Deleted}
		}
	}
	return out
}

// ThreeWayResult is a base-relative three-way tree diff: each side's
// changes against base, plus cross-categorization of paths changed by
// both sides.
type ThreeWayResult struct {
	OursChanges   map[string]Change
	TheirsChanges map[string]Change
	BothModified  []string // changed on both sides, to different results
	SameChanges   []string // changed on both sides, to the identical result
	OnlyOurs      []string // changed on ours only
	OnlyTheirs    []string // changed on theirs only
}

// ThreeWayDiff computes ours_changes = diff(base, ours), theirs_changes =
// diff(base, theirs), and cross-categorizes every touched path.
func ThreeWayDiff(ctx context.Context, store Store, base, ours, theirs oid.OID) (ThreeWayResult, error) {
	baseMap, err := flattenTree(ctx, store, base)
	if err != nil {
		return ThreeWayResult{}, err
	}
	oursMap, err := flattenTree(ctx, store, ours)
	if err != nil {
		return ThreeWayResult{}, err
	}
	theirsMap, err := flattenTree(ctx, store, theirs)
	if err != nil {
		return ThreeWayResult{}, err
	}

	oursChanges := diffMaps(baseMap, oursMap)
	theirsChanges := diffMaps(baseMap, theirsMap)

	result := ThreeWayResult{OursChanges: oursChanges, TheirsChanges: theirsChanges}
	for path, oc := range oursChanges {
		tc, touchedByTheirs := theirsChanges[path]
		if !touchedByTheirs {
			result.OnlyOurs = append(result.OnlyOurs, path)
			continue
		}
		if oc.Kind == tc.Kind && oc.OID == tc.OID && oc.Mode == tc.Mode {
			result.SameChanges = append(result.SameChanges, path)
		} else {
			result.BothModified = append(result.BothModified, path)
		}
	}
	for path := range theirsChanges {
		if _, touchedByOurs := oursChanges[path]; !touchedByOurs {
			result.OnlyTheirs = append(result.OnlyTheirs, path)
		}
	}
	return result, nil
}
